package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: config.StoreDriverMemory},
		Auth:  config.AuthConfig{JWTSecret: "cli-secret", AccessTokenTTLMinutes: 10},
	}
}

func TestTokenCommandIssuesParsableToken(t *testing.T) {
	cfg := testConfig()
	root := newRootCmd(cfg, zap.NewNop())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--actor", "dana", "--role", "department", "--department", "Cardiology"})
	require.NoError(t, root.Execute())

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	claims, err := auth.NewTokenManager("cli-secret", 10).ParseToken(body.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.Principal{ActorName: "dana", Role: domain.RoleDepartment, Department: "Cardiology"}, claims.Principal())
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	root := newRootCmd(testConfig(), zap.NewNop())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--actor", "x", "--role", "janitor"})
	require.Error(t, root.Execute())
}

func TestClassifyRefusesMemoryStore(t *testing.T) {
	root := newRootCmd(testConfig(), zap.NewNop())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"classify", "ext-1"})
	require.ErrorContains(t, root.Execute(), "memory")
}
