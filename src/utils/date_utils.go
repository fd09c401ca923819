package utils

// DefaultDateFormat is the wire and storage layout for dates.
const DefaultDateFormat = "2006-01-02"
