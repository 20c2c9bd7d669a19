package actorutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundTaskErrSuccessDoesNotFireOnError(t *testing.T) {

	assert := assert.New(t)

	var captured error
	NewBackgroundTaskErr(nil, func() error {
		return nil
	}).OnError(func(err error) {
		captured = err
	}).Run()

	assert.NoError(captured)
}

func TestBackgroundTaskErrFailureFiresOnError(t *testing.T) {

	require := require.New(t)

	boom := fmt.Errorf("broker unreachable")
	var captured error
	NewBackgroundTaskErr(nil, func() error {
		return boom
	}).OnError(func(err error) {
		captured = err
	}).Run()

	require.ErrorContains(captured, "broker unreachable")
}

func TestBackgroundTaskRecoverFeedsOnSuccess(t *testing.T) {

	require := require.New(t)

	var got string
	NewBackgroundTask(nil, func() (*string, error) {
		return nil, fmt.Errorf("fetch failed")
	}).Recover(func(err error) string {
		return "fallback"
	}).OnSuccess(func(v string) {
		got = v
	}).Run()

	require.Equal("fallback", got)
}

func TestBackgroundTaskTimeout(t *testing.T) {

	assert := assert.New(t)

	var captured error
	NewBackgroundTaskErr(nil, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}).WithTimeout(20 * time.Millisecond).OnError(func(err error) {
		captured = err
	}).Run()

	assert.Error(captured)
}
