package telemetry

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silowatch/pkg/logx"
)

const feedURL = "https://api.thingspeak.com/channels/123/feeds.json"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(Config{}, logx.Nop())
	httpmock.ActivateNonDefault(c.httpc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestFetchLatestMapsAllFields(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, feedURL,
		httpmock.NewStringResponder(200, `{"feeds":[{
			"created_at":"2026-08-30T12:00:00Z","entry_id":77,
			"field1":"21.5","field2":"61.2","field3":"415.0",
			"field4":"180","field5":"1.0","field6":"240.5"}]}`))

	r, err := c.FetchLatest(context.Background(), 123, "secret")
	require.NoError(t, err)
	assert.Equal(t, 21.5, r.TempC)
	assert.Equal(t, 61.2, r.RHPct)
	require.NotNil(t, r.CO2PPMEst)
	assert.Equal(t, 415.0, *r.CO2PPMEst)
	require.NotNil(t, r.MQ2Raw)
	assert.Equal(t, 180, *r.MQ2Raw)
	require.NotNil(t, r.LuminosityAlert)
	assert.Equal(t, 1, *r.LuminosityAlert, "flag written as 1.0 still parses")
	require.NotNil(t, r.Lux)
	assert.Equal(t, 240.5, *r.Lux)
	assert.Equal(t, 2026, r.Timestamp.Year())
}

func TestFetchLatestOptionalFieldsAbsent(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, feedURL,
		httpmock.NewStringResponder(200, `{"feeds":[{
			"created_at":"2026-08-30T12:00:00Z","entry_id":78,
			"field1":"19.0","field2":"55.0",
			"field3":null,"field4":null,"field5":null,"field6":null}]}`))

	r, err := c.FetchLatest(context.Background(), 123, "")
	require.NoError(t, err)
	assert.Nil(t, r.CO2PPMEst)
	assert.Nil(t, r.MQ2Raw)
	assert.Nil(t, r.LuminosityAlert)
	assert.Nil(t, r.Lux)
}

func TestFetchLatestEmptyFeed(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, feedURL,
		httpmock.NewStringResponder(200, `{"feeds":[]}`))

	_, err := c.FetchLatest(context.Background(), 123, "")
	assert.ErrorIs(t, err, ErrEmptyFeed)
}

func TestFetchLatestUpstreamError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, feedURL,
		httpmock.NewStringResponder(502, "bad gateway"))

	_, err := c.FetchLatest(context.Background(), 123, "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 502, se.Code)
}

func TestFetchLatestRequiredFieldMissing(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, feedURL,
		httpmock.NewStringResponder(200, `{"feeds":[{
			"created_at":"2026-08-30T12:00:00Z","entry_id":79,
			"field1":null,"field2":"55.0"}]}`))

	_, err := c.FetchLatest(context.Background(), 123, "")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "field1", ve.Field)
}

func TestFetchLatestBadTimestamp(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodGet, feedURL,
		httpmock.NewStringResponder(200, `{"feeds":[{
			"created_at":"yesterday","field1":"19.0","field2":"55.0"}]}`))

	_, err := c.FetchLatest(context.Background(), 123, "")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "created_at", ve.Field)
}
