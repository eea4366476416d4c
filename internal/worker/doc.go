// Package worker implements the offline cache manager that runs as the worker
// script: it fills a versioned bucket from the asset manifest on install,
// drops every other bucket on activate, and answers page fetches either
// cache-first (static assets) or network-only (weather APIs).
package worker
