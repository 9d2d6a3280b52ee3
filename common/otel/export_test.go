package otel

var ParseHeaders = parseHeaders
