package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-secret-unit-secret-unit-secret"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := New(testSecret, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_EmptySecret(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().Truncate(time.Second)
	c := newCodec(t, WithClock(fixedClock(now)), WithIssuer("volunteer-hub"))

	raw, exp, err := c.Issue(Claims{UserID: "u-1", Role: "volunteer", Use: UseAccess}, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, strings.Split(raw, "."), 3)
	require.True(t, exp.Equal(now.Add(15*time.Minute)))

	claims, err := c.VerifyUse(raw, UseAccess)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.UserID)
	require.Equal(t, "u-1", claims.Subject)
	require.Equal(t, "volunteer", claims.Role)
	require.Equal(t, "volunteer-hub", claims.Issuer)
	require.NotEmpty(t, claims.ID)
	require.Equal(t, 15*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestIssue_FreshJTI(t *testing.T) {
	t.Parallel()

	c := newCodec(t)

	a, _, err := c.Issue(Claims{UserID: "u-1", Use: UseAccess}, time.Minute)
	require.NoError(t, err)
	b, _, err := c.Issue(Claims{UserID: "u-1", Use: UseAccess}, time.Minute)
	require.NoError(t, err)

	ca, err := c.Verify(a)
	require.NoError(t, err)
	cb, err := c.Verify(b)
	require.NoError(t, err)
	require.NotEqual(t, ca.ID, cb.ID)
}

func TestIssue_RejectsBadInput(t *testing.T) {
	t.Parallel()

	c := newCodec(t)

	_, _, err := c.Issue(Claims{Use: UseAccess}, time.Minute)
	require.Error(t, err)

	_, _, err = c.Issue(Claims{UserID: "u-1"}, 0)
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	issued := time.Now().Add(-time.Hour)
	issuer := newCodec(t, WithClock(fixedClock(issued)))

	raw, _, err := issuer.Issue(Claims{UserID: "u-1", Use: UseAccess}, 15*time.Minute)
	require.NoError(t, err)

	_, err = newCodec(t).Verify(raw)
	require.ErrorIs(t, err, ErrExpired)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_ExactlyAtExpiry_Rejected(t *testing.T) {
	t.Parallel()

	t0 := time.Now().Truncate(time.Second)
	raw, _, err := newCodec(t, WithClock(fixedClock(t0))).Issue(Claims{UserID: "u-1", Use: UseAccess}, 10*time.Second)
	require.NoError(t, err)

	_, err = newCodec(t, WithClock(fixedClock(t0.Add(9*time.Second)))).Verify(raw)
	require.NoError(t, err)

	_, err = newCodec(t, WithClock(fixedClock(t0.Add(10*time.Second)))).Verify(raw)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerify_TamperedSignature(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	raw, _, err := c.Issue(Claims{UserID: "u-1", Use: UseAccess}, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for i := range sig {
		flipped := append([]byte(nil), sig...)
		flipped[i] ^= 0x01
		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)

		_, err := c.Verify(tampered)
		require.ErrorIs(t, err, ErrInvalid, "byte %d", i)
	}
}

func TestVerify_TamperedClaims(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	raw, _, err := c.Issue(Claims{UserID: "u-1", Role: "volunteer", Use: UseAccess}, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	forged := strings.Replace(string(payload), `"volunteer"`, `"organizer"`, 1)
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(forged)) + "." + parts[2]

	_, err = c.Verify(tampered)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	raw, _, err := newCodec(t).Issue(Claims{UserID: "u-1", Use: UseAccess}, time.Minute)
	require.NoError(t, err)

	other, err := New("another-secret-another-secret-xx")
	require.NoError(t, err)

	_, err = other.Verify(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	claims := Claims{
		UserID: "u-1",
		Use:    UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = c.Verify(none)
	require.ErrorIs(t, err, ErrInvalid)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = c.Verify(hs512)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	c := newCodec(t)

	for _, raw := range []string{
		"",
		"abc",
		"a.b",
		"a.b.c.d",
		"!!!.###.$$$",
	} {
		_, err := c.Verify(raw)
		require.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestVerify_IssuerMismatch(t *testing.T) {
	t.Parallel()

	raw, _, err := newCodec(t, WithIssuer("other")).Issue(Claims{UserID: "u-1", Use: UseAccess}, time.Minute)
	require.NoError(t, err)

	_, err = newCodec(t, WithIssuer("volunteer-hub")).Verify(raw)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyUse_Mismatch(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	refresh, _, err := c.Issue(Claims{UserID: "u-1", Use: UseRefresh}, time.Hour)
	require.NoError(t, err)

	_, err = c.VerifyUse(refresh, UseAccess)
	require.ErrorIs(t, err, ErrInvalid)

	claims, err := c.VerifyUse(refresh, UseRefresh)
	require.NoError(t, err)
	require.Equal(t, UseRefresh, claims.Use)
}
