package handler

import "strconv"

func itoa(v uint) string { return strconv.FormatUint(uint64(v), 10) }

func i64toa(v int64) string { return strconv.FormatInt(v, 10) }
