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
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func tokenOutput(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/chatsync/open-ai-token"), Value: strPtr(v), Type: types.ParameterTypeSecureString,
	}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: tokenOutput(`{"token":"sk"}`)}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " /chatsync/open-ai-token ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"sk"}`, v)

	require.NotNil(t, api.lastIn)
	require.Equal(t, "/chatsync/open-ai-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_WithoutCacheReadsEveryTime(t *testing.T) {
	api := &fakeAPI{getOut: tokenOutput("v")}
	client, err := New(api)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := client.GetParameter(context.Background(), "p")
		require.NoError(t, err)
	}
	require.Equal(t, 3, api.calls)
}

func TestGetParameter_WithCacheReadsOnce(t *testing.T) {
	api := &fakeAPI{getOut: tokenOutput("v1")}
	client, err := New(api, WithCache())
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	api.getOut = tokenOutput("v2")
	v, err = client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	require.Equal(t, 1, api.calls)

	v, err = client.GetParameter(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_WithCacheSkipsFailures(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api, WithCache())
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)

	api.getErr = nil
	api.getOut = tokenOutput("ok")
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "ok", v)
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

func TestGetParameter_NilOutput(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
	require.Zero(t, api.calls)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
