package models

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// KindFrequency identifies FrequencyClassifier blobs.
const KindFrequency = "frequency"

// Bucket levels, most specific first.
const (
	levelDayHourMonth = iota
	levelDayMonth
	levelMonth
	levelGlobal

	numLevels
)

// FrequencyClassifier predicts the most frequent class seen for the most
// specific matching time bucket.
//
// Training counts class codes in four buckets per sample:
//  1. (day-of-week, hour, month)
//  2. (day-of-week, month)
//  3. (month)
//  4. everything
//
// Prediction walks the buckets in that order and returns the modal class of
// the first non-empty one. Ties resolve to the lowest class code.
type FrequencyClassifier struct {
	numClasses int

	// counts[level] maps a bucket key to per-class counts.
	counts [numLevels]map[[NumFeatures]int][]int
}

// NewFrequencyClassifier returns an untrained classifier.
func NewFrequencyClassifier() *FrequencyClassifier {
	c := &FrequencyClassifier{}
	c.reset(0)
	return c
}

func (c *FrequencyClassifier) reset(numClasses int) {
	c.numClasses = numClasses
	for i := range c.counts {
		c.counts[i] = make(map[[NumFeatures]int][]int)
	}
}

// Kind returns the classifier identifier.
func (c *FrequencyClassifier) Kind() string {
	return KindFrequency
}

// Fit counts class occurrences per bucket. Previous state is discarded.
func (c *FrequencyClassifier) Fit(ctx context.Context, samples []Sample, labels []int) error {
	numClasses, err := validateTrainingSet(samples, labels)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.reset(numClasses)
	for i, s := range samples {
		for level := range c.counts {
			key := bucketKey(level, s)
			counts, ok := c.counts[level][key]
			if !ok {
				counts = make([]int, numClasses)
				c.counts[level][key] = counts
			}
			counts[labels[i]]++
		}
	}
	return nil
}

// Predict returns the modal class of the most specific populated bucket.
func (c *FrequencyClassifier) Predict(sample Sample) (int, error) {
	if c.numClasses == 0 {
		return 0, ErrNotFitted
	}

	for level := range c.counts {
		counts, ok := c.counts[level][bucketKey(level, sample)]
		if !ok {
			continue
		}
		best := 0
		for i := 1; i < len(counts); i++ {
			if counts[i] > counts[best] {
				best = i
			}
		}
		return best, nil
	}

	// The global bucket is always populated after Fit.
	return 0, ErrNotFitted
}

func bucketKey(level int, s Sample) [NumFeatures]int {
	var key [NumFeatures]int
	switch level {
	case levelDayHourMonth:
		key = [NumFeatures]int{int(s[FeatureDayOfWeek]), int(s[FeatureHour]), int(s[FeatureMonth])}
	case levelDayMonth:
		key = [NumFeatures]int{int(s[FeatureDayOfWeek]), -1, int(s[FeatureMonth])}
	case levelMonth:
		key = [NumFeatures]int{-1, -1, int(s[FeatureMonth])}
	default:
		key = [NumFeatures]int{-1, -1, -1}
	}
	return key
}

// Payload fields.
const (
	freqFieldNumClasses protowire.Number = 1
	freqFieldBucket     protowire.Number = 2

	bucketFieldLevel  protowire.Number = 1
	bucketFieldKey    protowire.Number = 2
	bucketFieldCounts protowire.Number = 3
)

// MarshalBinary encodes the bucket tables. Buckets are written in sorted key
// order so equal classifiers produce equal bytes.
func (c *FrequencyClassifier) MarshalBinary() ([]byte, error) {
	if c.numClasses == 0 {
		return nil, ErrNotFitted
	}

	b := appendIntField(nil, freqFieldNumClasses, c.numClasses)
	for level, table := range c.counts {
		keys := make([][NumFeatures]int, 0, len(table))
		for k := range table {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			for f := 0; f < NumFeatures; f++ {
				if keys[i][f] != keys[j][f] {
					return keys[i][f] < keys[j][f]
				}
			}
			return false
		})

		for _, k := range keys {
			var bucket []byte
			bucket = appendIntField(bucket, bucketFieldLevel, level)
			bucket = appendPackedInts(bucket, bucketFieldKey, k[:])
			bucket = appendPackedInts(bucket, bucketFieldCounts, table[k])
			b = appendBytesField(b, freqFieldBucket, bucket)
		}
	}
	return b, nil
}

// UnmarshalBinary restores a classifier written by MarshalBinary.
func (c *FrequencyClassifier) UnmarshalBinary(data []byte) error {
	c.reset(0)
	var buckets [][]byte

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case freqFieldNumClasses:
			v, n, err := consumeInt(typ, b)
			c.numClasses = v
			return n, err
		case freqFieldBucket:
			v, n, err := consumeBytes(typ, b)
			buckets = append(buckets, v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return fmt.Errorf("frequency classifier: %w", err)
	}
	if c.numClasses <= 0 {
		return fmt.Errorf("frequency classifier: invalid class count %d", c.numClasses)
	}

	for _, raw := range buckets {
		level := -1
		var key, counts []int
		err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			var n int
			var err error
			switch num {
			case bucketFieldLevel:
				level, n, err = consumeInt(typ, b)
			case bucketFieldKey:
				key, n, err = consumePackedInts(typ, b)
			case bucketFieldCounts:
				counts, n, err = consumePackedInts(typ, b)
			}
			return n, err
		})
		if err != nil {
			return fmt.Errorf("frequency classifier bucket: %w", err)
		}
		if level < 0 || level >= numLevels {
			return fmt.Errorf("frequency classifier: invalid bucket level %d", level)
		}
		if len(key) != NumFeatures {
			return fmt.Errorf("frequency classifier: bucket key has %d parts, want %d", len(key), NumFeatures)
		}
		if len(counts) != c.numClasses {
			return fmt.Errorf("frequency classifier: bucket has %d counts, want %d", len(counts), c.numClasses)
		}

		var k [NumFeatures]int
		copy(k[:], key)
		c.counts[level][k] = counts
	}

	if len(c.counts[levelGlobal]) == 0 {
		return fmt.Errorf("frequency classifier: missing global bucket")
	}
	return nil
}
