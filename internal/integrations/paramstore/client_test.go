package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	names  []string
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.names = append(f.names, *in.Name)
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func paramOut(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(v), Type: types.ParameterTypeSecureString,
	}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: paramOut(`{"token":"v"}`)}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " /outreach-agent/open-ai-token ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"v"}`, v)
	require.Equal(t, []string{"/outreach-agent/open-ai-token"}, api.names)
}

func TestGetParameter_CachesSuccessfulValues(t *testing.T) {
	api := &fakeAPI{getOut: paramOut("secret")}
	client, err := New(api)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := client.GetParameter(context.Background(), "p")
		require.NoError(t, err)
		require.Equal(t, "secret", v)
	}
	require.Equal(t, 1, api.calls)
}

func TestGetParameter_ErrorsAreNotCached(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "throttled")

	api.getErr, api.getOut = nil, paramOut("secret")
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "secret", v)
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestName(t *testing.T) {
	require.Equal(t, "/outreach-agent/gmail-oauth", Name("/outreach-agent/", "/gmail-oauth"))
	require.Equal(t, "/outreach-agent/open-ai-token", Name(" /outreach-agent", "open-ai-token"))
}

func TestDecodeJSON(t *testing.T) {
	client, err := New(&fakeAPI{getOut: paramOut(`{"client_id":"id","refresh_token":"rt"}`)})
	require.NoError(t, err)

	var creds struct {
		ClientID     string `json:"client_id"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, DecodeJSON(context.Background(), client, "p", &creds))
	require.Equal(t, "id", creds.ClientID)
	require.Equal(t, "rt", creds.RefreshToken)
}

func TestDecodeJSON_Errors(t *testing.T) {
	var v map[string]string
	require.ErrorContains(t, DecodeJSON(context.Background(), nil, "p", &v), "nil")

	client, err := New(&fakeAPI{getOut: paramOut(`{"broken`)})
	require.NoError(t, err)
	require.ErrorContains(t, DecodeJSON(context.Background(), client, " ", &v), "empty")
	require.ErrorContains(t, DecodeJSON(context.Background(), client, "p", &v), "unmarshal")

	failing, err := New(&fakeAPI{getErr: errors.New("ssm unavailable")})
	require.NoError(t, err)
	require.ErrorContains(t, DecodeJSON(context.Background(), failing, "p", &v), "ssm unavailable")
}
