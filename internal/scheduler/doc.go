// Package scheduler registers periodic cache maintenance jobs on a crontab.
// The only job today is the age-based sweep that deletes cached files older
// than the configured number of days.
package scheduler
