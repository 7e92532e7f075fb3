package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoint layout, encoded directly with the protobuf wire format:
//
//	message StateDict {
//	  string framework = 1;
//	  string version   = 2;
//	  repeated Weight weights = 3;
//	}
//	message Weight {
//	  string name  = 1;
//	  repeated int64 shape = 2;  // packed
//	  bytes data   = 3;          // little-endian float32
//	}

const (
	stateDictFrameworkField = 1
	stateDictVersionField   = 2
	stateDictWeightsField   = 3

	weightNameField  = 1
	weightShapeField = 2
	weightDataField  = 3

	wireFramework = "sam-tuner"
	wireVersion   = "1"
)

func marshalWeights(weights []WeightTensor) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, stateDictFrameworkField, protowire.BytesType)
	buf = protowire.AppendString(buf, wireFramework)
	buf = protowire.AppendTag(buf, stateDictVersionField, protowire.BytesType)
	buf = protowire.AppendString(buf, wireVersion)

	for _, w := range weights {
		buf = protowire.AppendTag(buf, stateDictWeightsField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalWeight(w))
	}
	return buf
}

func marshalWeight(w WeightTensor) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, weightNameField, protowire.BytesType)
	buf = protowire.AppendString(buf, w.Name)

	var shape []byte
	for _, dim := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(dim))
	}
	buf = protowire.AppendTag(buf, weightShapeField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, shape)

	data := make([]byte, 4*len(w.Data))
	for i, v := range w.Data {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	buf = protowire.AppendTag(buf, weightDataField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, data)
	return buf
}

func unmarshalWeights(buf []byte) ([]WeightTensor, error) {
	var weights []WeightTensor
	var framework string

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("corrupt checkpoint: %v", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch {
		case num == stateDictFrameworkField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, fmt.Errorf("corrupt checkpoint framework: %v", protowire.ParseError(n))
			}
			framework = v
			buf = buf[n:]
		case num == stateDictVersionField && typ == protowire.BytesType:
			_, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, fmt.Errorf("corrupt checkpoint version: %v", protowire.ParseError(n))
			}
			buf = buf[n:]
		case num == stateDictWeightsField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, fmt.Errorf("corrupt checkpoint weight record: %v", protowire.ParseError(n))
			}
			w, err := unmarshalWeight(v)
			if err != nil {
				return nil, err
			}
			weights = append(weights, w)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, fmt.Errorf("corrupt checkpoint field %d: %v", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}

	if framework != wireFramework {
		return nil, fmt.Errorf("unexpected checkpoint framework %q", framework)
	}
	return weights, nil
}

func unmarshalWeight(buf []byte) (WeightTensor, error) {
	var w WeightTensor

	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return w, fmt.Errorf("corrupt weight record: %v", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch {
		case num == weightNameField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return w, fmt.Errorf("corrupt weight name: %v", protowire.ParseError(n))
			}
			w.Name = v
			buf = buf[n:]
		case num == weightShapeField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return w, fmt.Errorf("corrupt weight shape: %v", protowire.ParseError(n))
			}
			for len(v) > 0 {
				dim, dn := protowire.ConsumeVarint(v)
				if dn < 0 {
					return w, fmt.Errorf("corrupt shape dimension: %v", protowire.ParseError(dn))
				}
				w.Shape = append(w.Shape, int(dim))
				v = v[dn:]
			}
			buf = buf[n:]
		case num == weightDataField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return w, fmt.Errorf("corrupt weight data: %v", protowire.ParseError(n))
			}
			if len(v)%4 != 0 {
				return w, fmt.Errorf("weight %s: data length %d is not a multiple of 4", w.Name, len(v))
			}
			w.Data = make([]float32, len(v)/4)
			for i := range w.Data {
				w.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(v[4*i:]))
			}
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return w, fmt.Errorf("corrupt weight field %d: %v", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}

	if w.Name == "" {
		return w, fmt.Errorf("weight record has no name")
	}
	return w, nil
}
