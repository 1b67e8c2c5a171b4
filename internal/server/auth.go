package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
)

const tokenLifetime = 30 * 24 * time.Hour

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Claims struct {
	Uid string `json:"uid"`
	jwt.StandardClaims
}

// userid -> token, err
func (s *Server) signJWT(claim Claims) (string, error) {
	claim.ExpiresAt = time.Now().Add(tokenLifetime).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claim)
	return token.SignedString(s.secret)
}

// token -> userid, ok
func (s *Server) parseJWT(token string) (string, bool) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", false
	}
	if claim, ok := parsed.Claims.(*Claims); ok && parsed.Valid {
		return claim.Uid, true
	}
	return "", false
}

// middleware authenticates requests with a Bearer token, or a token query
// parameter for websocket upgrades (browsers cannot set headers there).
// With no secret configured, auth is disabled for local development.
func (s *Server) middleware(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			next(w, r)
			return
		}

		token := ""
		if header := r.Header.Get("Authorization"); header != "" {
			parts := strings.Split(header, "Bearer ")
			if len(parts) != 2 {
				http.Error(w, "invalid token", http.StatusForbidden)
				return
			}
			token = parts[1]
		} else {
			token = r.URL.Query().Get("token")
		}

		uid, ok := s.parseJWT(token)
		if !ok {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), uidKey{}, uid)))
	}
}

type uidKey struct{}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad format", http.StatusBadRequest)
		return
	}

	hash, found, err := s.users.LookupUser(r.Context(), creds.Username)
	if err != nil {
		log.Printf("login lookup: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !found || bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusForbidden)
		return
	}

	token, err := s.signJWT(Claims{Uid: creds.Username})
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, token)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad format", http.StatusBadRequest)
		return
	}
	if creds.Username == "" || creds.Password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	created, err := s.users.CreateUser(r.Context(), creds.Username, string(hash))
	if err != nil {
		log.Printf("register: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !created {
		http.Error(w, "already exists", http.StatusForbidden)
		return
	}

	token, err := s.signJWT(Claims{Uid: creds.Username})
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, token)
}
