package render

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
)

func TestNewErrorTranslation(t *testing.T) {
	for idx, tc := range []struct {
		ret      vulkan.Result
		sentinel error
	}{
		{vulkan.ErrorOutOfDate, ErrOutOfDate},
		{vulkan.ErrorSurfaceLost, ErrOutOfDate},
		{vulkan.ErrorDeviceLost, ErrDeviceLost},
		{vulkan.ErrorOutOfDeviceMemory, ErrOutOfDeviceMemory},
		{vulkan.ErrorOutOfHostMemory, ErrOutOfHostMemory},
		{vulkan.Timeout, ErrAcquireTimeout},
		{vulkan.NotReady, ErrAcquireTimeout},
	} {
		t.Run(fmt.Sprintf("%d/%d", idx, tc.ret), func(t *testing.T) {
			err := NewError("vkTest", tc.ret)
			require.Error(t, err)
			require.ErrorIs(t, err, tc.sentinel)
			require.Contains(t, err.Error(), "vkTest")
		})
	}
}

func TestSentinelInUnwrapChain(t *testing.T) {
	// Sentinels must be reachable through Unwrap so that callers using the
	// standard library's errors.Is see them, not just cockroachdb's.
	for idx, tc := range []struct {
		err      error
		sentinel error
	}{
		{NewError("vkAcquireNextImage", vulkan.ErrorOutOfDate), ErrOutOfDate},
		{NewError("vkQueueSubmit", vulkan.ErrorDeviceLost), ErrDeviceLost},
		{NewError("vkAllocateMemory", vulkan.ErrorOutOfDeviceMemory), ErrOutOfDeviceMemory},
		{validateSpirv(nil), ErrInvalidShaderBinary},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			require.True(t, stderrors.Is(tc.err, tc.sentinel))
		})
	}
}

func TestNewErrorSuccess(t *testing.T) {
	require.NoError(t, NewError("vkTest", vulkan.Success))
}

func TestIsError(t *testing.T) {
	require.False(t, IsError(vulkan.Success))
	require.True(t, IsError(vulkan.ErrorDeviceLost))
}

func TestFatalClassification(t *testing.T) {
	for idx, tc := range []struct {
		err         error
		fatal       bool
		recoverable bool
	}{
		{NewError("vkQueueSubmit", vulkan.ErrorDeviceLost), true, false},
		{NewError("vkAcquireNextImage", vulkan.ErrorOutOfDate), false, true},
		{NewError("vkAcquireNextImage", vulkan.Timeout), false, true},
		{NewError("vkAllocateMemory", vulkan.ErrorOutOfDeviceMemory), false, false},
		{errors.New("plain"), false, false},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			require.Equal(t, tc.fatal, isFatal(tc.err))
			require.Equal(t, tc.recoverable, isRecoverableFrameError(tc.err))
		})
	}
}
