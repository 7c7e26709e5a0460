package unireq

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// authPolicy sets credentials through set and turns 401/403 into AuthError.
func authPolicy(name string, options map[string]any, set func(req *Request) (*Request, error)) Policy {
	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		authed, err := set(req)
		if err != nil {
			return nil, err
		}
		resp, err := next(ctx, authed)
		if err != nil {
			return resp, err
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, AuthError(resp)
		}
		return resp, nil
	}
	return Define(fn, Descriptor{Name: name, Kind: KindAuth, Options: options})
}

// Bearer sends "Authorization: Bearer <token>".
func Bearer(token string) Policy {
	return authPolicy("bearer", map[string]any{"scheme": "bearer", "token": token}, func(req *Request) (*Request, error) {
		return req.WithHeader("Authorization", "Bearer "+token), nil
	})
}

// Basic sends HTTP basic credentials.
func Basic(user, password string) Policy {
	encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return authPolicy("basic", map[string]any{"scheme": "basic", "user": user, "password": password}, func(req *Request) (*Request, error) {
		return req.WithHeader("Authorization", "Basic "+encoded), nil
	})
}

// APIKey sends key in the named header.
func APIKey(header, key string) Policy {
	header = http.CanonicalHeaderKey(header)
	return authPolicy("apiKey", map[string]any{"header": header, "apiKey": key}, func(req *Request) (*Request, error) {
		return req.WithHeader(header, key), nil
	})
}

// JWTOptions configures JWT.
type JWTOptions struct {
	// Key signs tokens: a []byte for HMAC methods, a private key otherwise.
	Key      any
	Method   jwt.SigningMethod
	Issuer   string
	Subject  string
	Audience []string
	// TTL bounds each token's lifetime. Defaults to 5 minutes.
	TTL    time.Duration
	Claims map[string]any
	Now    func() time.Time
}

// DefaultJWTTTL is the lifetime of minted tokens.
const DefaultJWTTTL = 5 * time.Minute

// JWT mints a signed token for every request and sends it as a bearer token.
func JWT(opts JWTOptions) Policy {
	if opts.Method == nil {
		opts.Method = jwt.SigningMethodHS256
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultJWTTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	options := map[string]any{
		"scheme": "bearer",
		"alg":    opts.Method.Alg(),
		"ttl":    opts.TTL.String(),
		"secret": opts.Key,
	}
	if opts.Issuer != "" {
		options["issuer"] = opts.Issuer
	}
	if opts.Subject != "" {
		options["subject"] = opts.Subject
	}

	return authPolicy("jwt", options, func(req *Request) (*Request, error) {
		token, err := mintJWT(opts)
		if err != nil {
			return nil, newError(ErrorTypeAuth, "sign jwt", req, err)
		}
		return req.WithHeader("Authorization", "Bearer "+token), nil
	})
}

func mintJWT(opts JWTOptions) (string, error) {
	now := opts.Now()
	claims := jwt.MapClaims{}
	for k, v := range opts.Claims {
		claims[k] = v
	}
	claims["iat"] = jwt.NewNumericDate(now)
	claims["nbf"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(opts.TTL))
	claims["jti"] = uuid.NewString()
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	if opts.Subject != "" {
		claims["sub"] = opts.Subject
	}
	if len(opts.Audience) > 0 {
		claims["aud"] = jwt.ClaimStrings(opts.Audience)
	}
	return jwt.NewWithClaims(opts.Method, claims).SignedString(opts.Key)
}
