// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	engineerrors "github.com/auditengine/engine/pkg/errors"
	"github.com/auditengine/engine/pkg/model"
)

// blobMagic and blobVersion identify the checkpoint wire format:
// a length-prefixed, versioned record so that recovery can detect a format
// change and fail cleanly rather than misinterpret old bytes.
var blobMagic = [4]byte{'A', 'C', 'K', 'P'}

const blobVersion uint16 = 1

// Encode serializes a checkpoint's AuditState and findings into the
// versioned blob format:
//
//	4-byte magic | 2-byte version | 4-byte state-len | state bytes (JSON) |
//	4-byte finding-count | (4-byte finding-len | finding bytes (JSON))*
func Encode(state model.AuditState, findings []model.Finding) ([]byte, error) {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "marshal audit state", err)
	}

	var buf bytes.Buffer
	buf.Write(blobMagic[:])
	if err := binary.Write(&buf, binary.BigEndian, blobVersion); err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "write version", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(stateBytes))); err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "write state length", err)
	}
	buf.Write(stateBytes)

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(findings))); err != nil {
		return nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "write finding count", err)
	}
	for i, f := range findings {
		fBytes, err := json.Marshal(f)
		if err != nil {
			return nil, engineerrors.Wrap(engineerrors.KindCheckpoint, fmt.Sprintf("marshal finding %d", i), err)
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(fBytes))); err != nil {
			return nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "write finding length", err)
		}
		buf.Write(fBytes)
	}

	return buf.Bytes(), nil
}

// Decode reverses Encode, failing with KindCheckpoint on any magic/version
// mismatch or truncated record rather than returning a partially-populated
// state.
func Decode(blob []byte) (model.AuditState, []model.Finding, error) {
	var state model.AuditState
	r := bytes.NewReader(blob)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != blobMagic {
		return state, nil, engineerrors.New(engineerrors.KindCheckpoint, "checkpoint blob: bad magic")
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "read version", err)
	}
	if version != blobVersion {
		return state, nil, engineerrors.New(engineerrors.KindCheckpoint,
			fmt.Sprintf("checkpoint blob: unsupported version %d (want %d)", version, blobVersion))
	}

	var stateLen uint32
	if err := binary.Read(r, binary.BigEndian, &stateLen); err != nil {
		return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "read state length", err)
	}
	stateBytes := make([]byte, stateLen)
	if _, err := readFull(r, stateBytes); err != nil {
		return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "read state bytes", err)
	}
	if err := json.Unmarshal(stateBytes, &state); err != nil {
		return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "unmarshal audit state", err)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, "read finding count", err)
	}
	findings := make([]model.Finding, 0, count)
	for i := uint32(0); i < count; i++ {
		var fLen uint32
		if err := binary.Read(r, binary.BigEndian, &fLen); err != nil {
			return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, fmt.Sprintf("read finding %d length", i), err)
		}
		fBytes := make([]byte, fLen)
		if _, err := readFull(r, fBytes); err != nil {
			return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, fmt.Sprintf("read finding %d bytes", i), err)
		}
		var f model.Finding
		if err := json.Unmarshal(fBytes, &f); err != nil {
			return state, nil, engineerrors.Wrap(engineerrors.KindCheckpoint, fmt.Sprintf("unmarshal finding %d", i), err)
		}
		findings = append(findings, f)
	}

	return state, findings, nil
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		m, err := r.Read(dst[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
