/*Package iio is a client-side transport and multiplexing layer for a remote
industrial-I/O daemon ("iiod"). It binds to a remote instrument server over a
duplex byte stream - either a TCP socket or a USB bulk-endpoint pair - and
lets callers issue device-control and bulk-streaming operations (open/close a
device, read or write attributes, transfer sample buffers, get/set triggers,
tune timeouts) while multiple such operations are in flight at once.

The hard part lives in Responder: it owns the reader and writer goroutines,
client-id allocation, response routing, and cancellation, so that many
concurrent RequestSlots can share one wire without stepping on each other.

Implemented transports


  ip:[<host>[:port]]                - TCP socket transport, empty host triggers DNS-SD discovery
  usb:[<bus>.<address>[.<interface>]] - USB bulk endpoint transport, empty body triggers a bus scan

Error Handling


Responder does not try to maintain a connection across failures. When the
underlying Port breaks, both loops stop and every live RequestSlot is woken
with the error; the caller decides whether and how to reconnect.
*/
package iio

/*
MIT License

Copyright (c) 2015-2017 University Corporation for Atmospheric Research

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/
