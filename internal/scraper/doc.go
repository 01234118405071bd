// Package scraper schedules and performs the HTTP polls of the analytics API.
//
// A Task polls one URL forever: optional jittered first delay, then
// slot -> fetch -> consumers -> sleep(interval). Failed fetches (transport
// error after retries, non-2xx) are logged and skip one cycle; a consumer
// error is fatal and ends the task with that error.
//
// Every fetch goes through the shared Pool (pool_size slots) and the shared
// Session (keep-alive connections, auth round tripper, rehttp retries with
// exponential jittered backoff). A Group runs the tasks on an errgroup:
// each task can be cancelled through its Handle, and the first fatal error
// cancels all of them.
//
// Self metrics: scrape_retries_count, scrape_errors_count,
// scrape_fetch_seconds, scrape_pool_size.
package scraper
