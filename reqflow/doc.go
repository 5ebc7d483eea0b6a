// Package reqflow is a client-side HTTP request orchestration library.
//
// It sits between application code and a low-level HTTP transport, accepting
// logical request descriptions and returning responses while interposing a
// fixed pipeline of cross-cutting concerns: global concurrency admission,
// response caching with TTL, per-key debounce and throttle, transparent
// bearer-token injection, dual-token (access/refresh) recovery on expiry,
// automatic retry with backoff, named cancellation, chunked resumable
// uploads with content hashing, and long-poll scheduling.
//
// # Quick start
//
//	client, err := reqflow.New(
//	    reqflow.WithMaxConcurrent(8),
//	    reqflow.WithCache(30*time.Second),
//	)
//
//	resp, err := client.Get(ctx, "https://api.example.com/users")
//
// # Dual-token refresh
//
//	client, err := reqflow.New(
//	    reqflow.WithDualToken(refreshFn,
//	        []int{401},  // access-token-expired codes
//	        []int{4011}, // refresh-token-expired codes
//	        func(err error) { redirectToLogin() },
//	    ),
//	)
//	client.SetAccessToken(initialAccessToken)
//
// # Resumable uploads
//
//	handle, resp, err := client.UploadFile(ctx, "https://api.example.com/upload", file,
//	    reqflow.UploadOptions{ResumeURL: "https://api.example.com/upload/resume"})
//
// The package never parses configuration files and never persists state
// beyond the lifetime of the process.
package reqflow
