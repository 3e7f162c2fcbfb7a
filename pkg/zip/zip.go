// Package zip bundles a generation's ingested audio variants into a single
// downloadable archive.
package zip

import (
	"archive/zip"
	"bytes"
)

// Asset is one audio file destined for the archive.
type Asset struct {
	Filename string
	Data     []byte
}

// ArchiveAssets writes the assets into an in-memory zip. Entries are stored
// rather than deflated; the payload is already compressed audio. Returns nil
// when a write fails.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   asset.Filename,
			Method: zip.Store,
		})
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	if err := zw.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}
