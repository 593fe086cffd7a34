// Package csv parses CSV from foreign byte streams into tables.
package csv
