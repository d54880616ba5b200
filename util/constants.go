package util

import (
	"time"
)

// Raw amounts on the wire, e8s unless noted
const (
	ICP_FEE            uint64 = 10_000
	MIN_STAKE_E8S      uint64 = 50_000_000
	MIN_WITHDRAW_E8S   uint64 = 100_000
	MIN_PAY_E8S        uint64 = 50_000_000
	SHARE_FEE_E12S     uint64 = 25_000_000_000
	ICP_DECIMALS       uint8  = 8
	SATSLINK_DECIMALS  uint8  = 8
	DEFAULT_POOL_TAKE  uint32 = 100
	ICP_LEDGER_DEFAULT        = "ryjl3-tyaaa-aaaaa-aaaba-cai"
)

const (
	ONE_MINUTE_NS = uint64(time.Minute)
	ONE_HOUR_NS   = uint64(time.Hour)
	ONE_DAY_NS    = 24 * ONE_HOUR_NS
	ONE_WEEK_NS   = 7 * ONE_DAY_NS
)

// ManagementCanister is the reserved "aaaaa-aa" principal
var ManagementCanister = Principal{}

// NowNanos is the ledger's created_at_time format
func NowNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

// NanosToTime converts a backend timestamp
func NanosToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}
