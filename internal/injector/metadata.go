package injector

import (
	"encoding/base64"
	"fmt"

	"howett.net/plist"
)

// transcodeMetadata turns the base64 XML metadata document into a canonical
// binary property list. Downstream consumers of the archive read the binary
// form, so the exact encoding matters. If the document doesn't parse as a
// plist the decoded bytes are written through unchanged.
func transcodeMetadata(metadataB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(metadataB64)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	var v interface{}
	if _, err := plist.Unmarshal(raw, &v); err != nil {
		return raw, nil
	}

	out, err := plist.Marshal(v, plist.BinaryFormat)
	if err != nil {
		return raw, nil
	}
	return out, nil
}
