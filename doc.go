// Package aigov embeds the feature usage governor in a Go program.
//
// A Client admits calls against per-feature quotas over a rolling 24h window,
// streams generation from an upstream, reconciles token usage and records
// one usage event per admitted call.
//
//	client, _ := aigov.New(ctx,
//	    aigov.WithRedis("localhost:6379", ""),
//	    aigov.WithLimits(5, map[string]int{"summary": 20}),
//	    aigov.WithHTTPUpstream("http://generator:9000", ""),
//	)
//	defer client.Close()
//
//	res, err := client.Generate(ctx, aigov.GenerateRequest{
//	    Client: "acme", Unit: "desk-3", Feature: "summary", Prompt: text,
//	}, func(chunk string) { fmt.Print(chunk) })
//	if errors.Is(err, aigov.ErrQuotaExceeded) {
//	    fmt.Println(res.Message)
//	}
package aigov
