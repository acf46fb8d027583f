package docker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/pkg/jsonmessage"
)

// ReadStream decodes an Engine API JSON message stream. Every message is
// passed to onMessage; progress text is written to out. An error message
// in the stream ends decoding and is returned as *jsonmessage.JSONError.
func ReadStream(in io.Reader, out io.Writer, onMessage func(jsonmessage.JSONMessage)) error {
	if out == nil {
		out = io.Discard
	}
	dec := json.NewDecoder(in)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode message stream: %w", err)
		}
		if onMessage != nil {
			onMessage(jm)
		}
		if jm.Error != nil {
			return jm.Error
		}
		if jm.ErrorMessage != "" {
			return &jsonmessage.JSONError{Message: jm.ErrorMessage}
		}
		if jm.Aux != nil {
			continue
		}
		if err := jm.Display(out, false); err != nil {
			return err
		}
	}
}

// DecodeAux unmarshals the aux payload of m into v. It reports false when
// m has no aux payload.
func DecodeAux(m jsonmessage.JSONMessage, v interface{}) bool {
	if m.Aux == nil {
		return false
	}
	return json.Unmarshal(*m.Aux, v) == nil
}
