package collage

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// viewer token claims. The client does not verify the signature - the server
// does that on every call. The claims are only read out for ids to tag the
// feed subscription and local mutations.
type ByJwt struct {
	UserId    Id
	ClientId  Id
	GuestName string
}

func ParseByJwtUnverified(jwtStr string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			byJwt.UserId = userId
		}
	}
	if clientIdStr, ok := claims["client_id"]; ok {
		if clientId, err := ParseId(clientIdStr.(string)); err == nil {
			byJwt.ClientId = clientId
		}
	}
	if guestName, ok := claims["guest_name"]; ok {
		byJwt.GuestName, _ = guestName.(string)
	}

	return byJwt, nil
}
