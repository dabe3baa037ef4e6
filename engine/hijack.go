package engine

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// abortedTypes are the resource classes the renderer never needs. Images
// and media are NOT aborted: the collector reads the DOM's <img> and
// <video> elements, and aborting their requests changes what some sites
// put in the DOM.
var abortedTypes = map[proto.NetworkResourceType]struct{}{
	proto.NetworkResourceTypeStylesheet: {},
	proto.NetworkResourceTypeFont:       {},
}

// setupHijack installs a request interceptor that aborts stylesheet and
// font loads. Returns the running HijackRouter so the caller can defer
// router.Stop().
func setupHijack(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to abort or continue.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, abort := abortedTypes[ctx.Request.Type()]; abort {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}
