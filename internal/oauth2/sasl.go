package oauth2

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2 is Google's XOAUTH2 SASL mechanism, which go-sasl no longer ships.
// The whole exchange is the initial response; a server challenge carries a
// JSON error and is acknowledged with an empty line so the command fails.
type xoauth2 struct {
	username, accessToken string
}

// NewXOAUTH2Client returns a SASL client logging username in with an OAuth2
// access token
func NewXOAUTH2Client(username, accessToken string) sasl.Client {
	return xoauth2{username: username, accessToken: accessToken}
}

func (x xoauth2) Start() (string, []byte, error) {
	ir := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", x.username, x.accessToken)
	return "XOAUTH2", []byte(ir), nil
}

func (x xoauth2) Next(challenge []byte) ([]byte, error) {
	if len(challenge) == 0 {
		return nil, sasl.ErrUnexpectedServerChallenge
	}
	return []byte{}, nil
}
