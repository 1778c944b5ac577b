package models

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// FormatVersion is written into every model blob.
const FormatVersion = 1

// Codec turns trained models into bytes and back.
type Codec interface {
	Marshal(model TrainedModel) ([]byte, error)
	Unmarshal(data []byte) (TrainedModel, error)
}

// BlobCodec encodes models as a single protobuf-wire record:
//
//	1: format version        (varint)
//	2: scope                 (string)
//	3: model id              (string)
//	4: trained at, unix nano (varint)
//	5: training samples      (varint)
//	6: holdout accuracy      (fixed64 double)
//	7: label classes         (packed varint, code order)
//	8: classifier kind       (string)
//	9: classifier payload    (bytes)
type BlobCodec struct{}

const (
	blobFieldVersion    protowire.Number = 1
	blobFieldScope      protowire.Number = 2
	blobFieldID         protowire.Number = 3
	blobFieldTrainedAt  protowire.Number = 4
	blobFieldSamples    protowire.Number = 5
	blobFieldAccuracy   protowire.Number = 6
	blobFieldClasses    protowire.Number = 7
	blobFieldKind       protowire.Number = 8
	blobFieldClassifier protowire.Number = 9
)

// Marshal implements Codec.
func (BlobCodec) Marshal(m TrainedModel) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	payload, err := m.Classifier.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s classifier: %w", m.Classifier.Kind(), err)
	}

	b := appendIntField(nil, blobFieldVersion, FormatVersion)
	b = appendStringField(b, blobFieldScope, m.Scope)
	b = appendStringField(b, blobFieldID, m.ID)
	b = protowire.AppendTag(b, blobFieldTrainedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.TrainedAt.UnixNano()))
	b = appendIntField(b, blobFieldSamples, m.Samples)
	b = appendDoubleField(b, blobFieldAccuracy, m.HoldoutAccuracy)
	b = appendPackedInts(b, blobFieldClasses, m.Encoder.Classes())
	b = appendStringField(b, blobFieldKind, m.Classifier.Kind())
	b = appendBytesField(b, blobFieldClassifier, payload)
	return b, nil
}

// Unmarshal implements Codec.
func (BlobCodec) Unmarshal(data []byte) (TrainedModel, error) {
	var (
		m       TrainedModel
		version int
		classes []int
		kind    string
		payload []byte
	)

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var n int
		var err error
		switch num {
		case blobFieldVersion:
			version, n, err = consumeInt(typ, b)
		case blobFieldScope:
			var v []byte
			v, n, err = consumeBytes(typ, b)
			m.Scope = string(v)
		case blobFieldID:
			var v []byte
			v, n, err = consumeBytes(typ, b)
			m.ID = string(v)
		case blobFieldTrainedAt:
			if typ != protowire.VarintType {
				return 0, fmt.Errorf("expected varint, got wire type %d", typ)
			}
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.TrainedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
		case blobFieldSamples:
			m.Samples, n, err = consumeInt(typ, b)
		case blobFieldAccuracy:
			m.HoldoutAccuracy, n, err = consumeDouble(typ, b)
		case blobFieldClasses:
			classes, n, err = consumePackedInts(typ, b)
		case blobFieldKind:
			var v []byte
			v, n, err = consumeBytes(typ, b)
			kind = string(v)
		case blobFieldClassifier:
			var v []byte
			v, n, err = consumeBytes(typ, b)
			payload = append([]byte(nil), v...)
		}
		return n, err
	})
	if err != nil {
		return TrainedModel{}, fmt.Errorf("decode model blob: %w", err)
	}

	if version != FormatVersion {
		return TrainedModel{}, fmt.Errorf("unsupported model format version %d", version)
	}
	if len(classes) == 0 {
		return TrainedModel{}, errors.New("model blob has no label encoding")
	}

	m.Encoder, err = LabelEncoderFromClasses(classes)
	if err != nil {
		return TrainedModel{}, fmt.Errorf("decode label encoding: %w", err)
	}

	clf, err := New(kind, ForestOptions{Seed: 1})
	if err != nil {
		return TrainedModel{}, err
	}
	if err := clf.UnmarshalBinary(payload); err != nil {
		return TrainedModel{}, err
	}
	m.Classifier = clf

	if err := m.Validate(); err != nil {
		return TrainedModel{}, err
	}
	return m, nil
}
