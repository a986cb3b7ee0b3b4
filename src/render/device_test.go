package render

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func usableCaps(name string, discrete bool) deviceCaps {
	return deviceCaps{
		name:     name,
		discrete: discrete,
		families: queueFamilies{graphics: 0, present: 0, compute: 0, transfer: 0},
		extensions: map[string]bool{
			swapchainExtension: true,
		},
		features:     Features{SamplerAnisotropy: true},
		formatCount:  2,
		presentModes: 2,
	}
}

func TestScoreDevice(t *testing.T) {
	required := []string{swapchainExtension}

	for idx, tc := range []struct {
		mutate func(*deviceCaps)
		want   int
	}{
		{func(c *deviceCaps) {}, 1 + discreteGpuScore},
		{func(c *deviceCaps) { c.discrete = false }, 1},
		{func(c *deviceCaps) { c.families.graphics = noQueueFamily }, 0},
		{func(c *deviceCaps) { c.families.present = noQueueFamily }, 0},
		{func(c *deviceCaps) { c.extensions = nil }, 0},
		{func(c *deviceCaps) { c.formatCount = 0 }, 0},
		{func(c *deviceCaps) { c.presentModes = 0 }, 0},
		{func(c *deviceCaps) { c.features = Features{} }, 0},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			caps := usableCaps("gpu", true)
			tc.mutate(&caps)
			got := scoreDevice(caps, required, Features{SamplerAnisotropy: true})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestScoreDeviceOptionalFeaturesDoNotGate(t *testing.T) {
	caps := usableCaps("gpu", false)
	caps.features = Features{}
	require.NotZero(t, scoreDevice(caps, []string{swapchainExtension}, Features{}))
}

func TestPickDevice(t *testing.T) {
	required := []string{swapchainExtension}
	integrated := usableCaps("integrated", false)
	discrete := usableCaps("discrete", true)
	unusable := usableCaps("unusable", true)
	unusable.families.present = noQueueFamily

	for idx, tc := range []struct {
		candidates []deviceCaps
		want       int
	}{
		{nil, -1},
		{[]deviceCaps{unusable}, -1},
		{[]deviceCaps{integrated}, 0},
		{[]deviceCaps{integrated, discrete}, 1},
		{[]deviceCaps{discrete, integrated}, 0},
		// Equal scores keep the first candidate.
		{[]deviceCaps{discrete, discrete}, 0},
		{[]deviceCaps{integrated, integrated}, 0},
		{[]deviceCaps{unusable, integrated, discrete, discrete}, 2},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			got := pickDevice(tc.candidates, required, Features{})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestPickDeviceDeterministic(t *testing.T) {
	candidates := []deviceCaps{
		usableCaps("a", true), usableCaps("b", true), usableCaps("c", false),
	}
	first := pickDevice(candidates, nil, Features{})
	for i := 0; i < 50; i++ {
		require.Equal(t, first, pickDevice(candidates, nil, Features{}))
	}
}

func TestQueueFamiliesDistinct(t *testing.T) {
	for idx, tc := range []struct {
		families queueFamilies
		want     []uint32
	}{
		{queueFamilies{graphics: 0, present: 0, compute: 0, transfer: 0}, []uint32{0}},
		{queueFamilies{graphics: 0, present: 1, compute: 0, transfer: 0}, []uint32{0, 1}},
		{queueFamilies{graphics: 0, present: 1, compute: 2, transfer: 3}, []uint32{0, 1, 2, 3}},
		{queueFamilies{graphics: 1, present: 0, compute: noQueueFamily, transfer: 1}, []uint32{1, 0}},
	} {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			require.Equal(t, tc.want, tc.families.distinct())
		})
	}
}

func TestFeatureSets(t *testing.T) {
	all := Features{SamplerAnisotropy: true}
	none := Features{}

	require.Equal(t, none, all.intersect(none))
	require.Equal(t, all, all.intersect(all))
	require.Equal(t, all, none.union(all))
	require.Empty(t, none.missing(none))
	require.Equal(t, []string{"samplerAnisotropy"}, all.missing(none))
}
