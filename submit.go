package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// OutboundMessage is a message addressed to a national number.
type OutboundMessage struct {
	Recipient string // national number, country prefix stripped
	Text      string
}

// NewOutboundMessage takes the first recipient, cleans it and strips the
// profile's country prefix. Numbers outside the supported country are
// refused, as is text that is blank or longer than the profile allows.
func NewOutboundMessage(recipients []string, text string, profile *SiteProfile) (OutboundMessage, error) {
	if len(recipients) == 0 {
		return OutboundMessage{}, fmt.Errorf("%w: no recipient", ErrInvalidRecipient)
	}

	number := cleanRecipient(recipients[0])
	national, ok := strings.CutPrefix(number, profile.CountryPrefix)
	if !ok || national == "" {
		return OutboundMessage{}, fmt.Errorf("%w: %q does not start with %s", ErrInvalidRecipient, recipients[0], profile.CountryPrefix)
	}

	if err := validateText(text, profile.MaxTextLength); err != nil {
		return OutboundMessage{}, err
	}

	return OutboundMessage{Recipient: national, Text: text}, nil
}

// validateText counts characters, not bytes: Cyrillic text is two bytes per letter.
func validateText(text string, maxLen int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: text is empty", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(text); maxLen > 0 && n > maxLen {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrInvalidMessage, n, maxLen)
	}
	return nil
}

// cleanRecipient extracts the number from "Name <+7 912 ...>" forms and
// drops separators. A leading 00 becomes +.
func cleanRecipient(raw string) string {
	if inner := between(raw, "<", ">"); inner != "" {
		raw = inner
	}

	var sb strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '+' && sb.Len() == 0:
			sb.WriteRune(r)
		}
	}

	number := sb.String()
	if rest, ok := strings.CutPrefix(number, "00"); ok {
		number = "+" + rest
	}
	return number
}

// Submitter posts the message together with the solved captcha.
type Submitter struct {
	// Now defaults to time.Now; schedule fields are derived from it.
	Now func() time.Time
}

// Submit sends the message. Profiles without delivery tracking return an
// empty receipt once the carrier confirms acceptance.
func (s Submitter) Submit(ctx context.Context, session *Session, msg OutboundMessage, res CaptchaResolution) (SendReceipt, error) {
	profile := session.Profile()

	resp, err := session.Execute(ctx, &Request{
		URL:       profile.SendURL,
		Form:      s.payload(profile, msg, res),
		Multipart: profile.Multipart,
		Referer:   profile.HomeURL,
	})
	if err != nil {
		return SendReceipt{}, fmt.Errorf("send message: %w", err)
	}
	text := resp.Text()

	if profile.PollsStatus() {
		return s.trackedReceipt(profile, text)
	}
	return SendReceipt{}, s.checkAccepted(profile, text)
}

func (s Submitter) payload(profile *SiteProfile, msg OutboundMessage, res CaptchaResolution) []Field {
	fields := make([]Field, 0, len(profile.StaticFields)+9)
	fields = append(fields, profile.StaticFields...)
	fields = append(fields,
		Field{Name: profile.Fields.Recipient, Value: msg.Recipient},
		Field{Name: profile.Fields.Text, Value: msg.Text},
	)

	if profile.ScheduleZone != nil {
		fields = append(fields, scheduleFields(s.now().In(profile.ScheduleZone))...)
	}

	return append(fields,
		Field{Name: profile.Fields.Challenge, Value: res.Challenge.Token},
		Field{Name: profile.Fields.Answer, Value: res.Answer},
	)
}

// scheduleFields asks the portal to send at t, i.e. right away.
func scheduleFields(t time.Time) []Field {
	return []Field{
		{Name: "send_day", Value: fmt.Sprintf("%02d", t.Day())},
		{Name: "send_month", Value: fmt.Sprintf("%02d", int(t.Month()))},
		{Name: "send_hour", Value: strconv.Itoa(t.Hour())},
		{Name: "send_minute", Value: strconv.Itoa(t.Minute())},
		{Name: "send_year", Value: strconv.Itoa(t.Year())},
	}
}

func (s Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Submitter) checkAccepted(profile *SiteProfile, text string) error {
	if reason := strings.TrimSpace(profile.sendError.in(text)); reason != "" {
		return &SendRejectedError{Reason: reason}
	}
	if !strings.Contains(text, profile.successMarker) {
		return newProtocolError("send", "no acceptance marker in response")
	}
	return nil
}

func (s Submitter) trackedReceipt(profile *SiteProfile, text string) (SendReceipt, error) {
	if key := profile.trackingKey.in(text); key != "" {
		return SendReceipt{TrackingKey: key}, nil
	}
	if profile.badCaptcha != "" && strings.Contains(text, profile.badCaptcha) {
		return SendReceipt{}, ErrCaptchaRejected
	}
	return SendReceipt{}, newProtocolError("send", "no tracking key in response")
}
