// Package client is the Go SDK for an operatord server.
//
// It wraps the /api/v1/operator HTTP API: reading the log head, appending
// signed envelopes and using the server's canonical encoder.
//
// # Reading the log
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	info, err := c.Info(ctx)
//	fmt.Println(info.Length, info.Head.RecordID)
//
// # Appending a record
//
// Envelopes are built and signed locally; the server only validates them:
//
//	res, err := c.Append(ctx, client.Envelope{
//	    ContentBytes: content,
//	    KeyID:        keyID,
//	    Signature:    sig,
//	})
//
// A rejected record is returned as an *APIError whose Code is the stable
// error name, for example "RecordHashDoesNotMatch":
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "RecordHashDoesNotMatch" {
//	    // refresh the head and re-sign
//	}
package client
