package logden

import (
	"github.com/oklog/ulid/v2"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// credentials presented in the channel hello. The token is issued by the
// daemon operator; the client does not verify it, only forwards it and
// reads the client id claim for logging.
type ClientAuth struct {
	Token      string
	InstanceId ulid.ULID
	AppVersion string
}

func NewClientAuth(token string) *ClientAuth {
	return &ClientAuth{
		Token:      token,
		InstanceId: ulid.Make(),
	}
}

func (self *ClientAuth) ClientId() (string, error) {
	if self.Token == "" {
		return "", nil
	}

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(self.Token, gojwt.MapClaims{})
	if err != nil {
		return "", err
	}

	claims := token.Claims.(gojwt.MapClaims)
	if clientId, ok := claims["client_id"]; ok {
		if clientIdStr, ok := clientId.(string); ok {
			return clientIdStr, nil
		}
	}
	return "", nil
}
