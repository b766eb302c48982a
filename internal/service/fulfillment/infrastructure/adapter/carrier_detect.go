// internal/service/fulfillment/infrastructure/adapter/carrier_detect.go
package adapter

import "regexp"

// carrierPattern 按优先级排列：先试结构性强的格式，再试纯数字格式。
type carrierPattern struct {
	carrier string
	re      *regexp.Regexp
}

var carrierPatterns = []carrierPattern{
	{"ups", regexp.MustCompile(`^1Z[0-9A-Z]{16}$`)},
	{"usps", regexp.MustCompile(`^9[0-9]{21}$`)},
	{"dhl", regexp.MustCompile(`^[0-9]{10}$`)},
	{"fedex", regexp.MustCompile(`^[0-9]{12}$|^[0-9]{15}$|^[0-9]{20}$`)},
	{"epacket", regexp.MustCompile(`^L[A-Z][0-9]{9}CN$`)},
	{"china-post", regexp.MustCompile(`^R[A-Z][0-9]{9}CN$`)},
}

// DetectCarrier 根据运单号形态识别承运商，识别不出返回空串，
// 由聚合商按默认渠道查询。
func DetectCarrier(trackingNumber string) string {
	for _, p := range carrierPatterns {
		if p.re.MatchString(trackingNumber) {
			return p.carrier
		}
	}
	return ""
}
