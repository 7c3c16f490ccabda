package recordapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolshare/lending"
)

func TestClientAgainstRouter(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&fakeRepo{}, nil))
	defer srv.Close()
	c := NewClient(srv.URL+"/", srv.Client())
	ctx := context.Background()

	users, err := c.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	u, err := c.CreateUser(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, lending.UserRecord{ID: "id-Ada", Name: "Ada", Email: "ada@example.com"}, u)

	users, err = c.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []lending.UserRecord{u}, users)

	_, err = c.CreateUser(ctx, "Ada Again", "ada@example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lending.ErrExternalServiceFailure))
	assert.Contains(t, err.Error(), lending.ErrEmailExists.Error())
}

func TestClientWrapsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).ListUsers(context.Background())
	require.Error(t, err)
	assert.Equal(t, lending.KindExternalServiceFailure, lending.KindOf(err))
	assert.Contains(t, err.Error(), "502")
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).CreateUser(context.Background(), "Ada", "ada@example.com")
	assert.ErrorIs(t, err, lending.ErrExternalServiceFailure)
}
