package services

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lotsentry/lotsentry-backend/internal/logger"
)

// TemplateService fingerprints a page into a template id. The mapping must
// be deterministic and order-independent: the same (platform, markup
// signature) always yields the same id, which is what makes cached visual
// decisions valid across unrelated dealerships sharing a vendor template.
type TemplateService interface {
	Detect(pageURL string, platformHint string, markup string, pageType string) string
}

type templateService struct {
	log *logger.Logger
}

func NewTemplateService(log *logger.Logger) TemplateService {
	return &templateService{log: log.With("service", "TemplateService")}
}

// vendorSignatures maps a vendor id to markers found in its rendered markup.
// Checked in fixed order so overlapping markers resolve deterministically.
var vendorSignatures = []struct {
	vendor  string
	markers []string
}{
	{"dealer.com", []string{"dealer.com", "dealer-logo", "vdp-container", "ddc-"}},
	{"dealeron", []string{"dealeron", "dealer-on"}},
	{"cdk", []string{"cdk global", "cdkglobal", "cdk-"}},
	{"dealerinspire", []string{"dealerinspire", "dealer inspire", "di-vdp"}},
	{"dealersocket", []string{"dealersocket", "dealerfire"}},
	{"autotrader", []string{"autotrader"}},
}

func (s *templateService) Detect(pageURL string, platformHint string, markup string, pageType string) string {
	hint := strings.ToLower(strings.TrimSpace(platformHint))
	haystack := strings.ToLower(markup)
	archetype := normalizePageType(pageType)

	for _, sig := range vendorSignatures {
		if hint == sig.vendor {
			return fmt.Sprintf("%s_%s", sig.vendor, archetype)
		}
		for _, marker := range sig.markers {
			if hint != "" && strings.Contains(hint, marker) {
				return fmt.Sprintf("%s_%s", sig.vendor, archetype)
			}
			if strings.Contains(haystack, marker) {
				return fmt.Sprintf("%s_%s", sig.vendor, archetype)
			}
		}
	}

	// Unrecognized vendor: synthesize a per-domain id so caching still works
	// within one dealership site.
	domain := "unknown"
	if parsed, err := url.Parse(pageURL); err == nil && parsed.Host != "" {
		domain = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	}
	return fmt.Sprintf("custom_%s_%s", domain, archetype)
}

func normalizePageType(pageType string) string {
	pt := strings.ToLower(strings.TrimSpace(pageType))
	switch pt {
	case "", "vdp":
		return "vdp"
	case "inventory", "srp":
		return "inventory"
	case "homepage", "home":
		return "homepage"
	default:
		return pt
	}
}
