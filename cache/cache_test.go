package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testJobInfo struct {
	OutputURL string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testJobInfo]()
	c.Store("some-job-id", testJobInfo{OutputURL: "s3://bucket/some-job-id"})
	require.Equal(t, "s3://bucket/some-job-id", c.Get("some-job-id").OutputURL)
}

func TestGetMissingKeyReturnsZeroValue(t *testing.T) {
	c := New[testJobInfo]()
	require.Equal(t, testJobInfo{}, c.Get("missing-job-id"))
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testJobInfo]()
	c.Store("some-job-id", testJobInfo{OutputURL: "s3://bucket/some-job-id"})
	require.Equal(t, "s3://bucket/some-job-id", c.Get("some-job-id").OutputURL)

	c.Remove("request-id", "some-job-id")
	require.Equal(t, "", c.Get("some-job-id").OutputURL)
}

func TestUnittestIntrospectionExposesUnderlyingMap(t *testing.T) {
	c := New[testJobInfo]()
	c.Store("some-job-id", testJobInfo{OutputURL: "s3://bucket/some-job-id"})

	m := c.UnittestIntrospection()
	require.Len(t, *m, 1)
	require.Equal(t, "s3://bucket/some-job-id", (*m)["some-job-id"].OutputURL)
}
