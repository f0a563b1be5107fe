package gtm

import "strings"

// classRule maps a function-identifier substring to a display label. Rules
// are ordered most specific first because several identifiers share prefixes
// ("__gaawe" must win over "__gaaw").
type classRule struct {
	substr string
	label  string
}

var tagTypeRules = []classRule{
	{"__gaawe", "GA4 Event"},
	{"__gaawc", "GA4 Configuration"},
	{"__googtag", "Google Tag"},
	{"__gaaw", "GA4"},
	{"__ua", "Universal Analytics"},
	{"__awct", "Google Ads Conversion"},
	{"__sp", "Google Ads Remarketing"},
	{"__gclidw", "Conversion Linker"},
	{"__flc", "Floodlight Counter"},
	{"__fls", "Floodlight Sales"},
	{"__cvt_", "Custom Template"},
	{"__html", "Custom HTML"},
	{"__img", "Custom Image"},
	{"__baut", "Microsoft Ads UET"},
	{"__twitter_website_tag", "Twitter Website Tag"},
	{"__pntr", "Pinterest Tag"},
	{"__bzi", "LinkedIn Insight"},
	{"__hjtc", "Hotjar Tracking"},
	{"__zone", "Zone"},
	{"__paused", "Paused Tag"},
	{"__opt", "Google Optimize"},
	{"__ts", "Tag Sequencing"},
	{"__asp", "AdRoll Pixel"},
	{"__scjs", "Custom Script"},
}

var tagVendorRules = []classRule{
	{"__gaaw", "Google"},
	{"__googtag", "Google"},
	{"__ua", "Google"},
	{"__awct", "Google Ads"},
	{"__sp", "Google Ads"},
	{"__gclidw", "Google Ads"},
	{"__flc", "Google Marketing Platform"},
	{"__fls", "Google Marketing Platform"},
	{"__opt", "Google"},
	{"__baut", "Microsoft"},
	{"__twitter_website_tag", "X/Twitter"},
	{"__pntr", "Pinterest"},
	{"__bzi", "LinkedIn"},
	{"__hjtc", "Hotjar"},
	{"__asp", "AdRoll"},
}

// htmlVendorRules classify generic HTML-injection tags by third-party
// library call signatures embedded in the payload.
var htmlVendorRules = []classRule{
	{"fbq(", "Meta (Facebook)"},
	{"facebook.com/tr", "Meta (Facebook)"},
	{"ttq.", "TikTok"},
	{"twq(", "X/Twitter"},
	{"pintrk(", "Pinterest"},
	{"snaptr(", "Snapchat"},
	{"_linkedin_partner_id", "LinkedIn"},
	{"lintrk(", "LinkedIn"},
	{"hotjar", "Hotjar"},
	{"hj(", "Hotjar"},
	{"clarity", "Microsoft Clarity"},
	{"gtag(", "Google"},
	{"ga(", "Google"},
	{"uetq", "Microsoft"},
	{"klaviyo", "Klaviyo"},
	{"criteo", "Criteo"},
	{"hubspot", "HubSpot"},
	{"intercom", "Intercom"},
	{"segment.com", "Segment"},
	{"analytics.load", "Segment"},
	{"plausible", "Plausible"},
	{"matomo", "Matomo"},
	{"_paq", "Matomo"},
}

// variableTypeTable is keyed by the exact function identifier; variables use
// a fixed lookup rather than substring rules because their identifiers are
// short enough to collide.
var variableTypeTable = map[string]string{
	"__v":    "Data Layer Variable",
	"__u":    "URL",
	"__c":    "Constant",
	"__jsm":  "Custom JavaScript",
	"__j":    "JavaScript Variable",
	"__e":    "Custom Event",
	"__f":    "HTTP Referrer",
	"__k":    "1st-Party Cookie",
	"__r":    "Random Number",
	"__aev":  "Auto-Event Variable",
	"__gas":  "Google Analytics Settings",
	"__remm": "RegEx Table",
	"__smm":  "Lookup Table",
	"__cid":  "Container ID",
	"__ctv":  "Container Version",
	"__dbg":  "Debug Mode",
	"__vis":  "Element Visibility",
	"__d":    "DOM Element",
	"__t":    "Random Number",
	"__awec": "User-Provided Data",
	"__uv":   "Undefined Value",
}

// classifyTagType maps a raw tag function identifier to a display label,
// defaulting to the raw identifier so unrecognized kinds stay traceable.
func classifyTagType(function string) string {
	for _, r := range tagTypeRules {
		if strings.Contains(function, r.substr) {
			return r.label
		}
	}
	if function == "" {
		return "Unknown"
	}
	return function
}

// classifyTagVendor resolves the owning vendor from the function identifier,
// falling back to a payload scan for HTML-injection tags.
func classifyTagVendor(function string, raw map[string]any) string {
	for _, r := range tagVendorRules {
		if strings.Contains(function, r.substr) {
			return r.label
		}
	}
	if strings.Contains(function, "__html") || strings.Contains(function, "__img") {
		payload := stringValue(raw["vtp_html"])
		if payload == "" {
			payload = stringValue(raw["vtp_url"])
		}
		lower := strings.ToLower(payload)
		for _, r := range htmlVendorRules {
			if strings.Contains(lower, strings.ToLower(r.substr)) {
				return r.label
			}
		}
		return "Custom"
	}
	if strings.Contains(function, "__cvt_") {
		return "Custom Template"
	}
	return "Unknown"
}

func classifyVariableType(function string) string {
	if label, ok := variableTypeTable[function]; ok {
		return label
	}
	if function == "" {
		return "Unknown"
	}
	return function
}
