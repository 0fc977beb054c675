// Package card decodes character cards: persona definitions shipped either
// as plain JSON or embedded in a PNG tEXt chunk under the "chara" keyword
// (the common community card format).
package card

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

// Character is the decoded persona definition.
type Character struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Personality  string `json:"personality"`
	Scenario     string `json:"scenario"`
	FirstMessage string `json:"first_mes"`
	SystemPrompt string `json:"system_prompt"`
	AvatarURL    string `json:"avatar_url"`
}

// DecodeError describes why a card payload could not be decoded.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("card: decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// pngSignature is the fixed 8-byte PNG file header.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Decode detects the payload format and decodes the embedded character.
func Decode(data []byte) (*Character, error) {
	if bytes.HasPrefix(data, pngSignature) {
		return DecodePNG(data)
	}
	return DecodeJSON(data)
}

// DecodeJSON decodes a JSON card. Both the bare Character shape and the
// wrapped form {"data": {...}} used by newer card specs are accepted.
func DecodeJSON(data []byte) (*Character, error) {
	var wrapped struct {
		Data *Character `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Data != nil && wrapped.Data.Name != "" {
		return wrapped.Data, nil
	}

	var c Character
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &DecodeError{Format: "json", Err: err}
	}
	if c.Name == "" {
		return nil, &DecodeError{Format: "json", Err: fmt.Errorf("card has no name")}
	}
	return &c, nil
}

// DecodePNG walks the PNG chunk list looking for a tEXt chunk keyed "chara"
// whose value is base64-encoded card JSON.
func DecodePNG(data []byte) (*Character, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, &DecodeError{Format: "png", Err: fmt.Errorf("missing PNG signature")}
	}
	rest := data[len(pngSignature):]

	for len(rest) >= 8 {
		length := binary.BigEndian.Uint32(rest[:4])
		chunkType := string(rest[4:8])
		if uint64(len(rest)) < 8+uint64(length)+4 {
			return nil, &DecodeError{Format: "png", Err: fmt.Errorf("truncated %s chunk", chunkType)}
		}
		chunkData := rest[8 : 8+length]
		rest = rest[8+length+4:] // skip CRC

		if chunkType == "IEND" {
			break
		}
		if chunkType != "tEXt" {
			continue
		}

		keyword, value, found := bytes.Cut(chunkData, []byte{0})
		if !found || string(keyword) != "chara" {
			continue
		}
		return decodeCharaPayload(value)
	}
	return nil, &DecodeError{Format: "png", Err: fmt.Errorf("no chara tEXt chunk found")}
}

// decodeCharaPayload decodes the base64 JSON stored in a chara chunk. Some
// exporters write extra null-delimited fields before the payload; the last
// segment is the one holding the card.
func decodeCharaPayload(value []byte) (*Character, error) {
	parts := bytes.Split(value, []byte{0})
	payload := strings.TrimSpace(string(parts[len(parts)-1]))

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Format: "png", Err: fmt.Errorf("chara chunk is not base64: %w", err)}
	}
	c, err := DecodeJSON(raw)
	if err != nil {
		return nil, &DecodeError{Format: "png", Err: err}
	}
	return c, nil
}
