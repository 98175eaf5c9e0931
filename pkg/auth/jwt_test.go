package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParse(t *testing.T) {
	iss := NewIssuer("s3cret", time.Minute)
	tok, err := iss.Generate("admin")
	require.NoError(t, err)

	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	_, err = NewIssuer("other", time.Minute).Parse(tok)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = iss.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestExpired(t *testing.T) {
	iss := NewIssuer("s3cret", time.Nanosecond)
	tok, err := iss.Generate("admin")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = iss.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}
