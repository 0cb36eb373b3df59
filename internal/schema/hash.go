package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

type customIndexKey struct {
	On      string            `json:"on"`
	Using   string            `json:"using"`
	Options map[string]string `json:"options"`
}

// CustomIndexHash returns the content hash identifying a custom index
// definition. Option order does not affect the hash.
func CustomIndexHash(ci CustomIndex) string {
	key := customIndexKey{On: strings.Trim(ci.On, `" `), Using: ci.Using, Options: ci.Options}
	if key.Options == nil {
		key.Options = map[string]string{}
	}
	// encoding/json writes map keys sorted
	data, _ := json.Marshal(key)

	h := murmur3.New128()
	h.Write(data)
	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo)
}
