// Package gameconfig validates and edits the gameplay configuration document
// written next to main.py as config.json.
package gameconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// MaxDocumentBytes bounds the stored document
const MaxDocumentBytes = 64 << 10

// ErrInvalid wraps every validation failure so handlers can map it to 422
var ErrInvalid = errors.New("invalid game config")

var schema = mustCompile(schemaJSON)

func mustCompile(data []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		panic(fmt.Sprintf("gameconfig: bad embedded schema: %v", err))
	}
	return s
}

// Validate checks doc against the embedded schema. Up to five violations are
// reported in the error message.
func Validate(doc []byte) error {
	if len(doc) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalid)
	}
	if len(doc) > MaxDocumentBytes {
		return fmt.Errorf("%w: document exceeds %d bytes", ErrInvalid, MaxDocumentBytes)
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !res.Valid() {
		var msgs []string
		for i, e := range res.Errors() {
			if i >= 5 {
				break
			}
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

// ApplyPatch applies an RFC 6902 patch to doc and validates the result
func ApplyPatch(doc, patchJSON []byte) ([]byte, error) {
	if len(doc) == 0 {
		doc = []byte("{}")
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode patch: %v", ErrInvalid, err)
	}

	modified, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to apply patch operations: %v", ErrInvalid, err)
	}

	if err := Validate(modified); err != nil {
		return nil, err
	}
	return modified, nil
}
