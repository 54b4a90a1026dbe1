package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// CaptchaChallenge is a token plus the image a human has to read.
type CaptchaChallenge struct {
	Token  string
	Image  []byte
	Format string // png, jpeg or gif
}

// CaptchaResolution pairs a challenge with a non-empty human answer.
type CaptchaResolution struct {
	Challenge CaptchaChallenge
	Answer    string
}

// CaptchaFetcher obtains a challenge following the profile's captcha flow.
type CaptchaFetcher struct{}

// Fetch returns a challenge with a non-empty token and a decodable image.
// Any unexpected page ends the attempt; nothing is retried here.
func (f CaptchaFetcher) Fetch(ctx context.Context, session *Session) (CaptchaChallenge, error) {
	profile := session.Profile()

	var (
		token string
		err   error
	)
	switch profile.CaptchaFlow {
	case captchaDirect:
		token, err = f.directToken(ctx, session)
	case captchaNegotiated:
		token, err = f.negotiatedToken(ctx, session)
	default:
		return CaptchaChallenge{}, fmt.Errorf("profile %s: unsupported captcha flow %d", profile.Name, profile.CaptchaFlow)
	}
	if err != nil {
		return CaptchaChallenge{}, err
	}

	return f.fetchImage(ctx, session, token)
}

// directToken reads the token from a single info page.
func (f CaptchaFetcher) directToken(ctx context.Context, session *Session) (string, error) {
	profile := session.Profile()

	resp, err := session.Execute(ctx, &Request{URL: profile.CaptchaInfoURL, Referer: profile.HomeURL})
	if err != nil {
		return "", fmt.Errorf("fetch captcha info: %w", err)
	}

	token := profile.challengeToken.in(resp.Text())
	if token == "" {
		return "", newProtocolError("captcha info", "no challenge token in response")
	}
	return token, nil
}

// negotiatedToken asks the carrier which provider it uses, gets a challenge
// from that provider and reloads it once. Reloaded challenges tend to be
// easier to read.
func (f CaptchaFetcher) negotiatedToken(ctx context.Context, session *Session) (string, error) {
	profile := session.Profile()

	resp, err := session.Execute(ctx, &Request{URL: profile.CaptchaInfoURL, Referer: profile.HomeURL})
	if err != nil {
		return "", fmt.Errorf("fetch captcha info: %w", err)
	}
	info := resp.Text()

	if provider := profile.provider.in(info); provider != profile.KnownProvider {
		return "", newProtocolError("captcha info", "unknown captcha provider %q", provider)
	}
	siteKey := profile.siteKey.in(info)
	if siteKey == "" {
		return "", newProtocolError("captcha info", "no site key in response")
	}

	resp, err = session.Execute(ctx, &Request{URL: profile.challengeURL(siteKey), Referer: profile.HomeURL})
	if err != nil {
		return "", fmt.Errorf("fetch captcha challenge: %w", err)
	}
	token := profile.challengeToken.in(resp.Text())
	if token == "" {
		return "", newProtocolError("captcha challenge", "no challenge token in response")
	}

	resp, err = session.Execute(ctx, &Request{URL: profile.reloadURL(token, siteKey), Referer: profile.HomeURL})
	if err != nil {
		return "", fmt.Errorf("reload captcha challenge: %w", err)
	}
	reloaded := profile.reloadToken.in(resp.Text())
	if reloaded == "" {
		return "", newProtocolError("captcha reload", "no challenge token in response")
	}

	session.logger.Log("Captcha challenge negotiated with %s", profile.KnownProvider)
	return reloaded, nil
}

func (f CaptchaFetcher) fetchImage(ctx context.Context, session *Session, token string) (CaptchaChallenge, error) {
	profile := session.Profile()

	resp, err := session.Execute(ctx, &Request{
		URL:     profile.imageURL(token),
		Referer: profile.HomeURL,
		Accept:  "image/webp,image/*,*/*;q=0.8",
	})
	if err != nil {
		return CaptchaChallenge{}, fmt.Errorf("fetch captcha image: %w", err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(resp.Body))
	if err != nil {
		return CaptchaChallenge{}, newProtocolError("captcha image", "undecodable image: %v", err)
	}

	return CaptchaChallenge{Token: token, Image: resp.Body, Format: format}, nil
}
