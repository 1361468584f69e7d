// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import "strconv"

// Code is the closed set of error discriminants surfaced by every queue
// operation. The names are part of the public contract and are kept
// verbatim, including historical misspellings.
type Code int

const (
	// Instantiation
	FailedToInstantiateInboundFaFMq Code = iota + 1
	FailedToInstantiateOutboundFaFMq
	FailedToInstantiateInboundRaRMq
	FailedToInstantiateOutboundRaRMq

	// Initialization
	FailedToInitializeMessageQueue

	// Configuration
	NotSupportedConfigurationParameters
	MissingRequiredConfigurationParameter
	InvalidValueForConfigurationParameter
	ParameterNotApplicationInCurrentConfiguration
	ParameterRequiredInCurrentConfiguration
	FailedToExtractConstantFields
	GeneralConfigurationParsingError

	// Serialization
	FailedToSerializeObjectIntoJsonString
	FailedToSerializeObjectIntoJsonBytes
	FailedToDeserializeJsonString
	FailedToDeserializeJsonBytes
	FailedToSerializeMessage
	FailedToDeserializeMessage

	// Messaging
	FailedToReceiveMessage
	FailedToSendMessage
	FailedToReceiveRequestMessage
	FailedToReceiveResponseMessage
	FailedToSendResponseMessage
	MessageQueueIsNotInitialized
	FailedToCreateMessageQueue
	FailedToStartReceivingMessage
	FailedToStartReceivingRequest
	FailedToStopReceivingMessage
	FailedToStopReceivingRequest
	FailedToStipReceivingRequest
	FailedToCheckQueueExistence
	FailedToCheckExchangeExistence
	FailedToCheckQueueHasMessage
	FailedToCreateExchange
	QueueDoesNotExist
	ExchangeDoesNotExist
	AcknowledgmentIsNotConfiguredForQueue
	FailedToAcknowledgeMessage
	FailedToAbandonMessageAcknowledgment
	MessageReturnedFromQueue
	InvalidZeroMqSocketType
	FailedToCreateZeroMqSocket
	MissingNamespaceAddressInConfiguration
)

var codeNames = map[Code]string{
	FailedToInstantiateInboundFaFMq:               "FailedToInstantiateInboundFaFMq",
	FailedToInstantiateOutboundFaFMq:              "FailedToInstantiateOutboundFaFMq",
	FailedToInstantiateInboundRaRMq:               "FailedToInstantiateInboundRaRMq",
	FailedToInstantiateOutboundRaRMq:              "FailedToInstantiateOutboundRaRMq",
	FailedToInitializeMessageQueue:                "FailedToInitializeMessageQueue",
	NotSupportedConfigurationParameters:           "NotSupportedConfigurationParameters",
	MissingRequiredConfigurationParameter:         "MissingRequiredConfigurationParameter",
	InvalidValueForConfigurationParameter:         "InvalidValueForConfigurationParameter",
	ParameterNotApplicationInCurrentConfiguration: "ParameterNotApplicationInCurrentConfiguration",
	ParameterRequiredInCurrentConfiguration:       "ParameterRequiredInCurrentConfiguration",
	FailedToExtractConstantFields:                 "FailedToExtractConstantFields",
	GeneralConfigurationParsingError:              "GeneralConfigurationParsingError",
	FailedToSerializeObjectIntoJsonString:         "FailedToSerializeObjectIntoJsonString",
	FailedToSerializeObjectIntoJsonBytes:          "FailedToSerializeObjectIntoJsonBytes",
	FailedToDeserializeJsonString:                 "FailedToDeserializeJsonString",
	FailedToDeserializeJsonBytes:                  "FailedToDeserializeJsonBytes",
	FailedToSerializeMessage:                      "FailedToSerializeMessage",
	FailedToDeserializeMessage:                    "FailedToDeserializeMessage",
	FailedToReceiveMessage:                        "FailedToReceiveMessage",
	FailedToSendMessage:                           "FailedToSendMessage",
	FailedToReceiveRequestMessage:                 "FailedToReceiveRequestMessage",
	FailedToReceiveResponseMessage:                "FailedToReceiveResponseMessage",
	FailedToSendResponseMessage:                   "FailedToSendResponseMessage",
	MessageQueueIsNotInitialized:                  "MessageQueueIsNotInitialized",
	FailedToCreateMessageQueue:                    "FailedToCreateMessageQueue",
	FailedToStartReceivingMessage:                 "FailedToStartReceivingMessage",
	FailedToStartReceivingRequest:                 "FailedToStartReceivingRequest",
	FailedToStopReceivingMessage:                  "FailedToStopReceivingMessage",
	FailedToStopReceivingRequest:                  "FailedToStopReceivingRequest",
	FailedToStipReceivingRequest:                  "FailedToStipReceivingRequest",
	FailedToCheckQueueExistence:                   "FailedToCheckQueueExistence",
	FailedToCheckExchangeExistence:                "FailedToCheckExchangeExistence",
	FailedToCheckQueueHasMessage:                  "FailedToCheckQueueHasMessage",
	FailedToCreateExchange:                        "FailedToCreateExchange",
	QueueDoesNotExist:                             "QueueDoesNotExist",
	ExchangeDoesNotExist:                          "ExchangeDoesNotExist",
	AcknowledgmentIsNotConfiguredForQueue:         "AcknowledgmentIsNotConfiguredForQueue",
	FailedToAcknowledgeMessage:                    "FailedToAcknowledgeMessage",
	FailedToAbandonMessageAcknowledgment:          "FailedToAbandonMessageAcknowledgment",
	MessageReturnedFromQueue:                      "MessageReturnedFromQueue",
	InvalidZeroMqSocketType:                       "InvalidZeroMqSocketType",
	FailedToCreateZeroMqSocket:                    "FailedToCreateZeroMqSocket",
	MissingNamespaceAddressInConfiguration:        "MissingNamespaceAddressInConfiguration",
}

// String implements the [fmt.Stringer] interface.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Code(" + strconv.Itoa(int(c)) + ")"
}

// Error allows a bare [Code] to be used as an [errors.Is] target.
func (c Code) Error() string {
	return c.String()
}

var defaultMessages = map[Code]string{
	FailedToInstantiateInboundFaFMq:               "failed to instantiate inbound fire-and-forget queue",
	FailedToInstantiateOutboundFaFMq:              "failed to instantiate outbound fire-and-forget queue",
	FailedToInstantiateInboundRaRMq:               "failed to instantiate inbound request/response queue",
	FailedToInstantiateOutboundRaRMq:              "failed to instantiate outbound request/response queue",
	FailedToInitializeMessageQueue:                "failed to initialize message queue",
	NotSupportedConfigurationParameters:           "configuration contains unsupported parameters",
	MissingRequiredConfigurationParameter:         "missing required configuration parameter",
	InvalidValueForConfigurationParameter:         "invalid value for configuration parameter",
	ParameterNotApplicationInCurrentConfiguration: "parameter is not applicable in current configuration",
	ParameterRequiredInCurrentConfiguration:       "parameter is required in current configuration",
	FailedToExtractConstantFields:                 "failed to extract configuration keys",
	GeneralConfigurationParsingError:              "failed to parse configuration",
	FailedToSerializeObjectIntoJsonString:         "failed to serialize object into json string",
	FailedToSerializeObjectIntoJsonBytes:          "failed to serialize object into json bytes",
	FailedToDeserializeJsonString:                 "failed to deserialize json string",
	FailedToDeserializeJsonBytes:                  "failed to deserialize json bytes",
	FailedToSerializeMessage:                      "failed to serialize message",
	FailedToDeserializeMessage:                    "failed to deserialize message",
	FailedToReceiveMessage:                        "failed to receive message",
	FailedToSendMessage:                           "failed to send message",
	FailedToReceiveRequestMessage:                 "failed to receive request message",
	FailedToReceiveResponseMessage:                "failed to receive response message",
	FailedToSendResponseMessage:                   "failed to send response message",
	MessageQueueIsNotInitialized:                  "message queue is not initialized",
	FailedToCreateMessageQueue:                    "failed to create message queue",
	FailedToStartReceivingMessage:                 "failed to start receiving messages",
	FailedToStartReceivingRequest:                 "failed to start receiving requests",
	FailedToStopReceivingMessage:                  "failed to stop receiving messages",
	FailedToStopReceivingRequest:                  "failed to stop receiving requests",
	FailedToStipReceivingRequest:                  "failed to stop receiving requests",
	FailedToCheckQueueExistence:                   "failed to check queue existence",
	FailedToCheckExchangeExistence:                "failed to check exchange existence",
	FailedToCheckQueueHasMessage:                  "failed to check if queue has message",
	FailedToCreateExchange:                        "failed to create exchange",
	QueueDoesNotExist:                             "queue does not exist",
	ExchangeDoesNotExist:                          "exchange does not exist",
	AcknowledgmentIsNotConfiguredForQueue:         "acknowledgment is not configured for queue",
	FailedToAcknowledgeMessage:                    "failed to acknowledge message",
	FailedToAbandonMessageAcknowledgment:          "failed to abandon message acknowledgment",
	MessageReturnedFromQueue:                      "message returned from queue",
	InvalidZeroMqSocketType:                       "invalid zeromq socket type",
	FailedToCreateZeroMqSocket:                    "failed to create zeromq socket",
	MissingNamespaceAddressInConfiguration:        "missing namespace address in configuration",
}

// Message returns the default human readable message for the code.
func (c Code) Message() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return c.String()
}
