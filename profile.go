package main

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// CaptchaFlow selects how a profile obtains its captcha challenge.
type CaptchaFlow int

const (
	// captchaDirect reads the challenge token straight from an info page.
	captchaDirect CaptchaFlow = iota
	// captchaNegotiated asks the carrier for a provider site key, then
	// negotiates challenge and reload with the provider.
	captchaNegotiated
)

// Field is a single form field. Fields keep their order on the wire.
type Field struct {
	Name  string
	Value string
}

// delimiters bound a value inside a loosely structured response.
type delimiters struct {
	from string
	to   string
}

// in returns the text between the delimiters, or "" when either is missing.
func (d delimiters) in(src string) string {
	return between(src, d.from, d.to)
}

// PayloadFields maps the send payload onto carrier field names.
type PayloadFields struct {
	Recipient string
	Text      string
	Challenge string
	Answer    string
}

// SiteProfile describes one version of a carrier web portal: endpoints,
// headers, payload field names and status codes. Profiles are built once
// by LookupProfile and must be treated as read-only afterwards.
type SiteProfile struct {
	Name        string
	Description string

	HomeURL         string // sent as Referer
	CaptchaInfoURL  string
	CaptchaImageURL string // challenge token is appended
	ChallengeURL    string // provider challenge, site key is appended
	ReloadURL       string // provider reload, format with token and site key
	SendURL         string
	StatusURL       string // tracking key is appended; empty disables polling

	UserAgent      string
	Accept         string
	AcceptLanguage string
	// FixedCookie is replayed on every request. The captcha provider serves
	// easier challenges to clients that already carry it.
	FixedCookie   string
	TrustAllCerts bool

	CountryPrefix string
	// MaxTextLength caps the message text in characters; 0 means no limit.
	MaxTextLength int

	CaptchaFlow   CaptchaFlow
	KnownProvider string
	Multipart     bool
	Fields        PayloadFields
	StaticFields  []Field
	// ScheduleZone, when set, adds "send now" schedule fields computed in that zone.
	ScheduleZone *time.Location

	challengeToken delimiters
	provider       delimiters
	siteKey        delimiters
	reloadToken    delimiters
	sendError      delimiters
	successMarker  string
	trackingKey    delimiters
	badCaptcha     string
	statusCode     delimiters
	statusTable    map[string]DeliveryStatus
}

// PollsStatus reports whether sends through this profile are tracked after acceptance.
func (p *SiteProfile) PollsStatus() bool {
	return p.StatusURL != ""
}

// classifyStatus maps a raw status code through the profile table.
func (p *SiteProfile) classifyStatus(code string) DeliveryStatus {
	if s, ok := p.statusTable[code]; ok {
		return s
	}
	return StatusUnknown
}

func (p *SiteProfile) imageURL(token string) string {
	return p.CaptchaImageURL + url.QueryEscape(token)
}

func (p *SiteProfile) challengeURL(siteKey string) string {
	return p.ChallengeURL + url.QueryEscape(siteKey)
}

func (p *SiteProfile) reloadURL(token, siteKey string) string {
	return fmt.Sprintf(p.ReloadURL, url.QueryEscape(token), url.QueryEscape(siteKey))
}

func (p *SiteProfile) statusURL(key string) string {
	return p.StatusURL + url.QueryEscape(key)
}

// =============================================================================
// Registry
// =============================================================================

const (
	megafonCarrierURL  = "https://sendsms.megafon.ru"
	recaptchaURL       = "http://www.google.com/recaptcha/api"
	megafonSiteKey     = "6Lc7XMUSAAAAAALuekCTAzdT5U0zeiEUQbTRZIBu"
	megafonUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Ubuntu Chromium/37.0.2062.120 Chrome/37.0.2062.120 Safari/537.36"
	megafonAccept      = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	megafonAcceptLang  = "ru-RU,ru;q=0.8,en-US;q=0.6,en;q=0.4"
	megafonMaxText     = 150
	recaptchaNIDCookie = "NID=50=RbHwrmdgEAl6v3XPDKfJey5zpW7n84oRvsTZOK0LuYwW0m0UDFcPmts2HqKaZc2-Rdo7iLsrYKOUVKV4ztyb7JMDWavDVmvsyC2UldBcyFKsmyM_4Qhr761WpGHfoZPZ"
)

// moscowTime is the fixed UTC+3 zone the portal expects schedule fields in.
var moscowTime = time.FixedZone("UTC+3", 3*60*60)

type profileBuilder func(carrierURL, providerURL string) *SiteProfile

var profileBuilders = map[string]profileBuilder{
	"megafon-v1": megafonV1,
	"megafon-v2": megafonV2,
}

// ProfileNames returns the registered profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profileBuilders))
	for name := range profileBuilders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// LookupProfile builds the named profile. Empty overrides keep the
// profile's own carrier and captcha provider base URLs.
func LookupProfile(name, carrierURL, providerURL string) (*SiteProfile, error) {
	build, ok := profileBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	if carrierURL == "" {
		carrierURL = megafonCarrierURL
	}
	if providerURL == "" {
		providerURL = recaptchaURL
	}
	return build(strings.TrimRight(carrierURL, "/"), strings.TrimRight(providerURL, "/")), nil
}

// megafonV1 is the older portal: the challenge is read from the
// provider's noscript page and a sent message is confirmed by a page marker.
func megafonV1(carrierURL, providerURL string) *SiteProfile {
	return &SiteProfile{
		Name:        "megafon-v1",
		Description: "MegaFon sendsms portal, noscript reCAPTCHA, no delivery tracking",

		HomeURL:         carrierURL + "/",
		CaptchaInfoURL:  providerURL + "/noscript?lang=ru&k=" + megafonSiteKey,
		CaptchaImageURL: providerURL + "/image?c=",
		SendURL:         carrierURL + "/sms.action",

		UserAgent:      megafonUserAgent,
		Accept:         megafonAccept,
		AcceptLanguage: megafonAcceptLang,
		FixedCookie:    recaptchaNIDCookie,
		TrustAllCerts:  true,
		CountryPrefix:  "+7",
		MaxTextLength:  megafonMaxText,

		CaptchaFlow: captchaDirect,
		Multipart:   true,
		Fields: PayloadFields{
			Recipient: "addr",
			Text:      "message",
			Challenge: "recaptcha_challenge_field",
			Answer:    "recaptcha_response_field",
		},
		StaticFields: []Field{
			{Name: "charcheck", Value: "йцукен"},
			{Name: "lang", Value: ""},
		},
		ScheduleZone: moscowTime,

		challengeToken: delimiters{`id="recaptcha_challenge_field" value="`, `"`},
		sendError:      delimiters{`<h1 class="error">`, `</h1>`},
		successMarker:  "link-check-status",
	}
}

// megafonV2 is the JSON-ish portal: the carrier names the captcha provider,
// the send returns a tracking key and delivery is polled.
func megafonV2(carrierURL, providerURL string) *SiteProfile {
	return &SiteProfile{
		Name:        "megafon-v2",
		Description: "MegaFon sendsms API, negotiated reCAPTCHA, delivery status polling",

		HomeURL:         carrierURL + "/",
		CaptchaInfoURL:  carrierURL + "/api/captcha",
		ChallengeURL:    providerURL + "/challenge?k=",
		ReloadURL:       providerURL + "/reload?c=%s&k=%s&reason=r&type=image&lang=ru",
		CaptchaImageURL: providerURL + "/image?c=",
		SendURL:         carrierURL + "/api/sms/send",
		StatusURL:       carrierURL + "/api/sms/status?key=",

		UserAgent:      megafonUserAgent,
		Accept:         "application/json, text/javascript, */*; q=0.01",
		AcceptLanguage: megafonAcceptLang,
		FixedCookie:    recaptchaNIDCookie,
		TrustAllCerts:  true,
		CountryPrefix:  "+7",
		MaxTextLength:  megafonMaxText,

		CaptchaFlow:   captchaNegotiated,
		KnownProvider: "recaptcha",
		Fields: PayloadFields{
			Recipient: "phone",
			Text:      "text",
			Challenge: "captcha_challenge",
			Answer:    "captcha_answer",
		},

		provider:       delimiters{`"provider":"`, `"`},
		siteKey:        delimiters{`"siteKey":"`, `"`},
		challengeToken: delimiters{`challenge : '`, `'`},
		reloadToken:    delimiters{`finish_reload('`, `'`},
		trackingKey:    delimiters{`"key":"`, `"`},
		badCaptcha:     "captcha_invalid",
		statusCode:     delimiters{`"status":"`, `"`},
		statusTable: map[string]DeliveryStatus{
			"0": StatusAccepted,
			"1": StatusEnqueued,
			"2": StatusSent,
			"3": StatusDelivered,
			"4": StatusFailed,
			"5": StatusFailed,
		},
	}
}
