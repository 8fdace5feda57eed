package core

import "time"

// powerSample is one row of per-column power values in watts.
type powerSample struct {
	values []float64
	at     time.Duration
}

// Samples taken before the simulation starts are held back until it does, so
// the log header is written against the final registry.
func (c *Channel) sampleStaticPower(values []float64) {
	if c.files == nil || c.closed {
		return
	}
	c.staticSamples = append(c.staticSamples, powerSample{values: values, at: c.kernel.Now()})
	if c.started && len(c.staticSamples) > logDumpThreshold {
		c.flushStaticPowerLog(c.staticSamples)
		c.staticSamples = nil
	}
}

func (c *Channel) sampleDynamicPower(values []float64) {
	if c.files == nil || c.closed {
		return
	}
	c.dynamicSamples = append(c.dynamicSamples, powerSample{values: values, at: c.kernel.Now()})
	if c.started && len(c.dynamicSamples) > logDumpThreshold {
		c.flushEventPowerLog(c.dynamicSamples)
		c.dynamicSamples = nil
	}
}

// averageSamples folds consecutive windows of k samples into one row each.
// Every output row carries the per-column values plus a trailing total, each
// summed over the window and divided by k, stamped with the time of the
// first sample of the window. A trailing window shorter than k is still
// divided by k. Samples narrower than the widest one in their window
// contribute zero to the missing columns.
func averageSamples(samples []powerSample, k int) []powerSample {
	var out []powerSample
	for start := 0; start < len(samples); start += k {
		end := min(start+k, len(samples))
		width := 0
		for _, s := range samples[start:end] {
			width = max(width, len(s.values))
		}
		avg := make([]float64, width+1)
		for _, s := range samples[start:end] {
			var total float64
			for i, v := range s.values {
				avg[i] += v / float64(k)
				total += v
			}
			avg[width] += total / float64(k)
		}
		out = append(out, powerSample{values: avg, at: samples[start].at})
	}
	return out
}
