/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package log

import (
	"fmt"

	"github.com/crewjam/rfc5424"
)

// KV builds an RFC5424 structured-data field, e.g. KV("run_id", id).
func KV(name string, value interface{}) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: toString(value)}
}

// KVErr builds a structured "err" field from an error, or an empty
// field if err is nil.
func KVErr(err error) rfc5424.SDParam {
	if err == nil {
		return rfc5424.SDParam{Name: "err", Value: ""}
	}
	return rfc5424.SDParam{Name: "err", Value: err.Error()}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
