// Package remote implements the hosted compression providers used as the
// last-resort backend: reSmush.it (free, URL based) and TinyPNG (keyed,
// upload based).
//
// Providers never write partial output. Downloads land in a temp file next
// to the original and are renamed into place only once fully received.
package remote
