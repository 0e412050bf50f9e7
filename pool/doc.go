// Package pool
// Author: momentics <momentics@gmail.com>
//
// Generic object pooling built on sync.Pool, used here to recycle the
// read/write byte buffers hooked connections churn through per request.
package pool
