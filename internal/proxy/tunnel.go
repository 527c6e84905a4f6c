package proxy

import "time"

const dialTimeout = 5 * time.Second
