package flasher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// Stub is a RAM-resident flasher program in esptool's JSON format. Running
// it unlocks chip erase and faster writes.
type Stub struct {
	Entry     uint32
	TextStart uint32
	Text      []byte
	DataStart uint32
	Data      []byte
}

type stubFile struct {
	Entry     uint32 `json:"entry"`
	Text      string `json:"text"`
	TextStart uint32 `json:"text_start"`
	Data      string `json:"data"`
	DataStart uint32 `json:"data_start"`
}

// LoadStub reads an esptool stub JSON file (stub_flasher_32.json and friends).
func LoadStub(path string) (*Stub, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stub: %w", err)
	}
	return ParseStub(raw)
}

// ParseStub decodes an esptool stub JSON document.
func ParseStub(raw []byte) (*Stub, error) {
	var f stubFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse stub: %w", err)
	}

	text, err := base64.StdEncoding.DecodeString(f.Text)
	if err != nil {
		return nil, fmt.Errorf("stub text: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, fmt.Errorf("stub data: %w", err)
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("parse stub: empty text segment")
	}

	return &Stub{
		Entry:     f.Entry,
		TextStart: f.TextStart,
		Text:      text,
		DataStart: f.DataStart,
		Data:      data,
	}, nil
}
