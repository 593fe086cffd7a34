// Package flight serves store objects over Arrow Flight.
//
// DoGet streams an object as record batches, DoPut stores an uploaded
// stream and ListFlights enumerates sealed objects. Tickets and descriptor
// paths carry the hex form of the object id.
package flight
