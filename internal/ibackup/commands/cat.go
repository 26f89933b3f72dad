package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gingerrexayers/ibackup-go/internal/ibackup/bplist"
)

// Cat is the main function for the 'cat' command. It writes the content of
// one logical file to w.
func Cat(archiveDir, logicalPath string, w io.Writer, opts Options) error {
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return err
	}
	data, err := archive.ReadFile(logicalPath)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", logicalPath, err)
	}
	_, err = w.Write(data)
	return err
}

// CatPlist decodes a binary property list stored at logicalPath and writes
// it to w as indented JSON. Data values come out base64 encoded and UIDs
// as plain numbers.
func CatPlist(archiveDir, logicalPath string, w io.Writer, opts Options) error {
	archive, err := openArchive(archiveDir, opts)
	if err != nil {
		return err
	}
	data, err := archive.ReadFile(logicalPath)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", logicalPath, err)
	}
	doc, err := bplist.Decode(data)
	if err != nil {
		return fmt.Errorf("could not parse %q: %w", logicalPath, err)
	}
	value, err := doc.Value(doc.Top())
	if err != nil {
		return fmt.Errorf("could not parse %q: %w", logicalPath, err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
