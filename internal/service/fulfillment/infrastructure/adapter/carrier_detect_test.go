// internal/service/fulfillment/infrastructure/adapter/carrier_detect_test.go
package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCarrier(t *testing.T) {
	cases := []struct {
		number  string
		carrier string
	}{
		{"1Z999AA10123456784", "ups"},
		{"9400110200881234567890", "usps"},
		{"1234567890", "dhl"},
		{"123456789012", "fedex"},
		{"123456789012345", "fedex"},
		{"LX123456789CN", "epacket"},
		{"RB123456789CN", "china-post"},
		{"not-a-tracking-number", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.carrier, DetectCarrier(tc.number), "number %q", tc.number)
	}
}
